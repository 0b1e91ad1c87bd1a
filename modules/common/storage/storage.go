package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"bouquet-visualizer/modules/common/config"
	"bouquet-visualizer/modules/common/utils"
)

// Encoding - how images are written
type Encoding struct {
	// Format is config.FormatPNG (keep model output as is) or config.FormatWebP.
	Format  string
	Quality int
}

// encode applies the configured transcoding and reports the resulting content type.
func (e Encoding) encode(data []byte) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", utils.ErrEmptyImage
	}
	if e.Format == config.FormatWebP {
		q := e.Quality
		if q <= 0 {
			q = 90
		}
		out, err := utils.ConvertToWebP(data, float32(q))
		if err != nil {
			return nil, "", err
		}
		return out, utils.ContentTypeWebP, nil
	}
	return data, utils.DetectContentType(data), nil
}

// SanitizeOrderID maps an order identifier onto a safe single path segment.
func SanitizeOrderID(orderID string) string {
	var sb strings.Builder
	for _, r := range orderID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	s := sb.String()
	if s == "" || strings.Trim(s, ".") == "" {
		return "_" + s
	}
	return s
}

// contentHash - short content digest used in object names
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}

func objectName(orderID, unique string, data []byte, contentType string) string {
	return fmt.Sprintf("%s-%s-%s%s", orderID, unique, contentHash(data), utils.Extension(contentType))
}
