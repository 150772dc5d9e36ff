// Package attachment converts uploaded image files to and from the inline
// base64 form that messages, sessions and generation requests carry.
package attachment

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/prismworks/easel/internal/models"
)

// DefaultMIMEType is assumed when an upload arrives without a declared type.
// No magic-byte validation is performed; the picker's declared type is
// trusted as-is.
const DefaultMIMEType = "image/png"

// FromReader reads an uploaded file and encodes it as an inline attachment.
// Read failures propagate to the caller; the send flow aborts on them before
// recording anything.
func FromReader(r io.Reader, declaredMIME string) (models.ImageAttachment, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return models.ImageAttachment{}, fmt.Errorf("read attachment: %w", err)
	}
	mime := declaredMIME
	if mime == "" {
		mime = DefaultMIMEType
	}
	return models.ImageAttachment{
		MIMEType: mime,
		Data:     base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// StripDataURL removes a "data:<mime>;base64," prefix if present, returning
// the bare base64 payload. Payloads without a prefix pass through unchanged.
func StripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Decode reverses an attachment back to raw image bytes.
func Decode(a models.ImageAttachment) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(StripDataURL(a.Data))
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return raw, nil
}
