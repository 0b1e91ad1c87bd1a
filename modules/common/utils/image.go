package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"net/http"
	"strings"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// Content types the pipeline accepts from a model
const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
	ContentTypeWebP = "image/webp"
	ContentTypeGIF  = "image/gif"
)

// ErrEmptyImage - model returned no bytes
var ErrEmptyImage = errors.New("empty image data")

// DetectContentType - sniff the image type from its leading bytes
func DetectContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// ValidateImage - reject empty payloads and anything that is not a decodable image
// Returns the sniffed content type.
func ValidateImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}

	ct := DetectContentType(data)
	switch ct {
	case ContentTypePNG, ContentTypeJPEG, ContentTypeGIF:
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return "", fmt.Errorf("corrupt %s: %w", ct, err)
		}
	case ContentTypeWebP:
	default:
		return "", fmt.Errorf("unsupported content type %q", ct)
	}
	return ct, nil
}

// Extension - file extension for a sniffed content type
func Extension(contentType string) string {
	switch contentType {
	case ContentTypePNG:
		return ".png"
	case ContentTypeJPEG:
		return ".jpg"
	case ContentTypeWebP:
		return ".webp"
	case ContentTypeGIF:
		return ".gif"
	default:
		return ".bin"
	}
}

// ConvertToWebP - re-encode PNG/JPEG/GIF bytes as lossy WebP
// WebP input is returned unchanged.
func ConvertToWebP(data []byte, quality float32) ([]byte, error) {
	if DetectContentType(data) == ContentTypeWebP {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}
	return buf.Bytes(), nil
}
