// Package expand resolves attachment references into provider-consumable
// message content. It decides a single file-handling mode per request,
// resolves stored files through the File Store and OCR collaborators, and
// produces the flat text reconstruction persisted with the trace.
package expand

import (
	"context"
	"fmt"

	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/observability"
)

// File-processing preferences accepted on a request.
const (
	ProcessingAuto   = "auto"
	ProcessingVision = "vision"
	ProcessingOCR    = "ocr"
	ProcessingNone   = "none"
)

// attachmentPlaceholder stands in for messages whose content is entirely
// non-textual in the trace's text reconstruction.
const attachmentPlaceholder = "[attachment content]"

// Expander resolves attachments and builds provider-ready messages.
type Expander struct {
	files domain.FileStore
	ocr   domain.OCRService
}

// NewExpander creates a new message expander (DI constructor).
func NewExpander(files domain.FileStore, ocr domain.OCRService) *Expander {
	return &Expander{
		files: files,
		ocr:   ocr,
	}
}

// Options configure one expansion run.
type Options struct {
	// FileProcessing is the request preference: auto|vision|ocr|none.
	// Empty means auto.
	FileProcessing string

	// OCRProvider optionally overrides the user's default OCR provider.
	OCRProvider string

	// Model is the target model; its vision capability drives the mode
	// decision.
	Model domain.Model
}

// Expansion is the result of expanding one request.
type Expansion struct {
	// Messages are the expanded messages. No file_ref part survives.
	Messages []domain.ChatMessage

	// InputContent is the newline-joined text reconstruction for tracing.
	InputContent string

	// Attachments lists every distinct file involved, first-seen order.
	Attachments []domain.Attachment
}

// expandState tracks per-request resolution bookkeeping. Resolution is
// strictly sequential: order affects the trace text and the OCR cache.
type expandState struct {
	mode        string
	ocrProvider string
	seen        map[string]bool
	ocrCache    map[string]string
	attachments []domain.Attachment
}

func (s *expandState) record(meta domain.FileMeta) {
	if s.seen[meta.ID] {
		return
	}
	s.seen[meta.ID] = true
	s.attachments = append(s.attachments, domain.Attachment{
		FileID: meta.ID,
		Name:   meta.OriginalName,
		Type:   meta.MimeType,
		Size:   meta.Size,
	})
}

// Expand resolves every attachment reference in the given messages.
func (e *Expander) Expand(
	ctx context.Context,
	userID string,
	messages []domain.ChatMessage,
	opts Options,
) (*Expansion, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	if opts.FileProcessing == ProcessingNone {
		return stripNonText(messages), nil
	}

	mode, err := e.decideMode(ctx, userID, messages, opts)
	if err != nil {
		return nil, err
	}

	state := &expandState{
		mode:        mode,
		ocrProvider: opts.OCRProvider,
		seen:        make(map[string]bool),
		ocrCache:    make(map[string]string),
	}

	expanded := make([]domain.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if !msg.Content.IsParts() {
			expanded = append(expanded, msg)
			continue
		}

		parts := make([]domain.ContentPart, 0, len(msg.Content.Parts))
		for _, part := range msg.Content.Parts {
			resolved, resolveErr := e.resolvePart(ctx, userID, part, state)
			if resolveErr != nil {
				return nil, resolveErr
			}
			parts = append(parts, resolved...)
		}
		expanded = append(expanded, domain.ChatMessage{
			Role:    msg.Role,
			Content: domain.NewPartsContent(parts...),
		})
	}

	observability.FromContext(ctx).Debug("message expansion completed",
		observability.String("mode", mode),
		observability.Int("attachments", len(state.attachments)),
	)

	return &Expansion{
		Messages:     expanded,
		InputContent: buildInputContent(expanded),
		Attachments:  state.attachments,
	}, nil
}

// decideMode applies the request-wide file handling decision and its hard
// preconditions. The mode is empty when no message references a file.
func (e *Expander) decideMode(
	ctx context.Context,
	userID string,
	messages []domain.ChatMessage,
	opts Options,
) (string, error) {
	switch opts.FileProcessing {
	case "", ProcessingAuto, ProcessingVision, ProcessingOCR:
	default:
		return "", domain.ValidationError(
			fmt.Sprintf("unknown fileProcessing preference %q", opts.FileProcessing))
	}

	if !wantsFiles(messages) {
		return "", nil
	}

	mode := ""
	switch opts.FileProcessing {
	case ProcessingVision:
		mode = ProcessingVision
	case ProcessingOCR:
		mode = ProcessingOCR
	default:
		if opts.Model.SupportsVision {
			mode = ProcessingVision
		} else {
			mode = ProcessingOCR
		}
	}

	if mode == ProcessingVision && !opts.Model.SupportsVision {
		return "", domain.PreconditionError(
			fmt.Sprintf("model %s does not support vision input", opts.Model.ID))
	}

	if mode == ProcessingOCR {
		settings, err := e.ocr.GetSettings(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("failed to load OCR settings: %w", err)
		}
		if !settings.Enabled {
			return "", domain.PreconditionError("OCR is disabled for this user")
		}
	}

	return mode, nil
}

// resolvePart converts one content part into its provider-consumable form.
func (e *Expander) resolvePart(
	ctx context.Context,
	userID string,
	part domain.ContentPart,
	state *expandState,
) ([]domain.ContentPart, error) {
	switch part.Type {
	case domain.PartText:
		return []domain.ContentPart{part}, nil

	case domain.PartFileRef:
		return e.resolveFileRef(ctx, userID, part.FileID, state)

	case domain.PartFile:
		mime, data, err := parseDataURL(part.File.Data)
		if err != nil {
			return nil, domain.ValidationError(
				fmt.Sprintf("file part %q carries an invalid data URL", part.File.Filename))
		}
		meta, err := e.files.Upload(ctx, userID, domain.FileUpload{
			OriginalName: part.File.Filename,
			MimeType:     mime,
			Size:         int64(len(data)),
			Data:         data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to persist inline file: %w", err)
		}
		state.record(*meta)
		return []domain.ContentPart{part}, nil

	case domain.PartImageURL:
		mime, data, err := parseDataURL(part.ImageURL.URL)
		if err != nil {
			// Remote image URLs pass through untouched.
			return []domain.ContentPart{part}, nil
		}
		meta, uploadErr := e.files.Upload(ctx, userID, domain.FileUpload{
			OriginalName: "inline-image",
			MimeType:     mime,
			Size:         int64(len(data)),
			Data:         data,
		})
		if uploadErr != nil {
			return nil, fmt.Errorf("failed to persist inline image: %w", uploadErr)
		}
		state.record(*meta)
		return []domain.ContentPart{part}, nil

	default:
		return nil, domain.ValidationError(fmt.Sprintf("unknown content part type %q", part.Type))
	}
}

// resolveFileRef fetches a stored file and converts it according to the
// request mode. OCR results are cached per fileId within the request.
func (e *Expander) resolveFileRef(
	ctx context.Context,
	userID, fileID string,
	state *expandState,
) ([]domain.ContentPart, error) {
	stored, err := e.files.Download(ctx, userID, fileID)
	if err != nil {
		return nil, domain.NotFoundError(fmt.Sprintf("file %s not found", fileID), err)
	}
	state.record(stored.Meta)

	mime := stored.Meta.MimeType
	name := stored.Meta.OriginalName

	switch {
	case state.mode == ProcessingOCR && (isImageMime(mime) || isPDFMime(mime)):
		text, cached := state.ocrCache[fileID]
		if !cached {
			result, ocrErr := e.ocr.ExtractForFile(ctx, userID, fileID,
				domain.OCROptions{Provider: state.ocrProvider})
			if ocrErr != nil {
				return nil, fmt.Errorf("ocr extraction for file %s failed: %w", fileID, ocrErr)
			}
			text = result.FullText
			state.ocrCache[fileID] = text
		}
		return []domain.ContentPart{domain.TextPart(fencedFileBlock(name, text))}, nil

	case state.mode == ProcessingVision && isImageMime(mime):
		return []domain.ContentPart{domain.ImagePart(buildDataURL(mime, stored.Data))}, nil

	case isPDFMime(mime):
		return []domain.ContentPart{domain.FilePart(name, buildDataURL(mime, stored.Data))}, nil

	case isTextLikeMime(mime):
		return []domain.ContentPart{domain.TextPart(fencedFileBlock(name, string(stored.Data)))}, nil

	default:
		return []domain.ContentPart{domain.TextPart(
			fmt.Sprintf("[Unsupported attachment type: %s (%s)]", mime, name))}, nil
	}
}

// stripNonText implements fileProcessing=none: every non-text part is
// dropped and a message left with no parts becomes empty text.
func stripNonText(messages []domain.ChatMessage) *Expansion {
	stripped := make([]domain.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if !msg.Content.IsParts() {
			stripped = append(stripped, msg)
			continue
		}

		var textParts []domain.ContentPart
		for _, part := range msg.Content.Parts {
			if part.Type == domain.PartText {
				textParts = append(textParts, part)
			}
		}

		if len(textParts) == 0 {
			stripped = append(stripped, domain.ChatMessage{
				Role:    msg.Role,
				Content: domain.NewTextContent(""),
			})
			continue
		}
		stripped = append(stripped, domain.ChatMessage{
			Role:    msg.Role,
			Content: domain.NewPartsContent(textParts...),
		})
	}

	return &Expansion{
		Messages:     stripped,
		InputContent: buildInputContent(stripped),
	}
}

// buildInputContent joins every message's textual content with newlines.
// Messages whose parts carry no text contribute a fixed placeholder.
func buildInputContent(messages []domain.ChatMessage) string {
	content := ""
	for i, msg := range messages {
		if i > 0 {
			content += "\n"
		}
		content += messageText(msg)
	}
	return content
}

func messageText(msg domain.ChatMessage) string {
	if !msg.Content.IsParts() {
		return msg.Content.Text
	}

	text := ""
	found := false
	for _, part := range msg.Content.Parts {
		if part.Type != domain.PartText {
			continue
		}
		if found {
			text += "\n"
		}
		text += part.Text
		found = true
	}

	if !found && len(msg.Content.Parts) > 0 {
		return attachmentPlaceholder
	}
	return text
}

func wantsFiles(messages []domain.ChatMessage) bool {
	for _, msg := range messages {
		for _, part := range msg.Content.Parts {
			switch part.Type {
			case domain.PartFileRef, domain.PartFile, domain.PartImageURL:
				return true
			}
		}
	}
	return false
}

func validateMessages(messages []domain.ChatMessage) error {
	if len(messages) == 0 {
		return domain.ValidationError("messages must not be empty")
	}
	for _, msg := range messages {
		for _, part := range msg.Content.Parts {
			if err := part.Validate(); err != nil {
				return domain.ValidationError(err.Error())
			}
		}
	}
	return nil
}

func fencedFileBlock(name, text string) string {
	return fmt.Sprintf("[File: %s]\n```\n%s\n```", name, text)
}
