package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PartType discriminates the content part union.
type PartType string

// Content part types. Only PartFileRef requires resolution before a message
// can reach a provider.
const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
	PartFile     PartType = "file"
	PartFileRef  PartType = "file_ref"
)

// ChatMessage is one message in a conversation. Order within a request is
// semantically significant.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either a plain string or a list of typed content parts.
// Exactly one of Text/Parts is meaningful: Parts == nil means string form.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// NewTextContent builds string-form content.
func NewTextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// NewPartsContent builds parts-form content.
func NewPartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// IsParts reports whether the content is in parts form.
func (c MessageContent) IsParts() bool {
	return c.Parts != nil
}

// MarshalJSON encodes string content as a JSON string and parts content as an
// array, matching the wire format providers accept.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a JSON string or an array of content parts.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Parts = nil
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("message content must be a string or a part array: %w", err)
	}

	c.Text = ""
	c.Parts = parts
	return nil
}

// ContentPart is one typed fragment of a message's content.
type ContentPart struct {
	Type     PartType     `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *ImageURL    `json:"image_url,omitempty"`
	File     *FilePayload `json:"file,omitempty"`
	FileID   string       `json:"fileId,omitempty"`
}

// ImageURL carries an inline data URL or a remote image location.
type ImageURL struct {
	URL string `json:"url"`
}

// FilePayload carries an inline document (e.g. a PDF) as a data URL.
type FilePayload struct {
	Filename string `json:"filename"`
	Data     string `json:"file_data"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds an image_url content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

// FilePart builds an inline file content part.
func FilePart(filename, data string) ContentPart {
	return ContentPart{Type: PartFile, File: &FilePayload{Filename: filename, Data: data}}
}

// FileRefPart builds a reference to a previously stored file.
func FileRefPart(fileID string) ContentPart {
	return ContentPart{Type: PartFileRef, FileID: fileID}
}

// Validate checks that the part carries the payload its type requires.
func (p ContentPart) Validate() error {
	switch p.Type {
	case PartText:
		return nil
	case PartImageURL:
		if p.ImageURL == nil || p.ImageURL.URL == "" {
			return errors.New("image_url part requires a url")
		}
	case PartFile:
		if p.File == nil || p.File.Data == "" {
			return errors.New("file part requires file data")
		}
	case PartFileRef:
		if p.FileID == "" {
			return errors.New("file_ref part requires a fileId")
		}
	default:
		return fmt.Errorf("unknown content part type %q", p.Type)
	}
	return nil
}

// Attachment is a deduplicated reference to a file involved in a request,
// recorded for trace/audit purposes. Unique by FileID, first-seen order.
type Attachment struct {
	FileID string `json:"fileId"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
}
