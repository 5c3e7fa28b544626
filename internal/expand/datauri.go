package expand

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// parseDataURL decodes a "data:<mime>;base64,<payload>" URL into its mime
// type and raw bytes.
func parseDataURL(url string) (string, []byte, error) {
	if !strings.HasPrefix(url, "data:") {
		return "", nil, errors.New("not a data URL")
	}

	header, payload, found := strings.Cut(url[len("data:"):], ",")
	if !found {
		return "", nil, errors.New("malformed data URL: missing payload separator")
	}

	mime := strings.TrimSuffix(header, ";base64")
	if mime == header {
		return "", nil, errors.New("unsupported data URL encoding: expected base64")
	}
	if mime == "" {
		mime = "application/octet-stream"
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode data URL payload: %w", err)
	}

	return mime, data, nil
}

// buildDataURL encodes raw bytes as an inline base64 data URL.
func buildDataURL(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

func isImageMime(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

func isPDFMime(mime string) bool {
	return mime == "application/pdf"
}

// textLikeMimes lists non-text/* types that decode cleanly as UTF-8 text.
var textLikeMimes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"application/x-yaml":     true,
	"application/yaml":       true,
	"application/csv":        true,
	"application/sql":        true,
}

func isTextLikeMime(mime string) bool {
	return strings.HasPrefix(mime, "text/") || textLikeMimes[mime]
}
