// Package datauri converts between image bytes and `data:<mime>;base64,<payload>` strings.
package datauri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformed       = errors.New("malformed data URI")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrEmptyPayload    = errors.New("empty image payload")
)

// SupportedTypes lists the MIME types accepted as EncodedImage content.
var SupportedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
}

// EncodedImage is an image payload together with its MIME type.
type EncodedImage struct {
	MIMEType string
	Data     []byte
}

// New validates mimeType and data and returns an EncodedImage.
func New(mimeType string, data []byte) (*EncodedImage, error) {
	mimeType = NormalizeType(mimeType)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	return &EncodedImage{MIMEType: mimeType, Data: data}, nil
}

// Parse decodes a data URI. The MIME type is the part between "data:" and the
// first ";" or ","; the payload is everything after the first comma.
func Parse(s string) (*EncodedImage, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return nil, fmt.Errorf("%w: missing data: prefix", ErrMalformed)
	}
	comma := strings.Index(s, ",")
	if comma == -1 {
		return nil, fmt.Errorf("%w: missing comma", ErrMalformed)
	}
	header := s[len("data:"):comma]
	params := strings.Split(header, ";")
	mimeType := params[0]
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return nil, fmt.Errorf("%w: only base64 payloads are accepted", ErrMalformed)
	}

	data, err := base64.StdEncoding.DecodeString(s[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return New(mimeType, data)
}

// String renders the image as a data URI.
func (e *EncodedImage) String() string {
	return Encode(e.MIMEType, e.Data)
}

// Encode renders data as a base64 data URI without validating the type.
func Encode(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Extension returns a file extension for the image type, without the dot.
func (e *EncodedImage) Extension() string {
	return ExtensionFor(e.MIMEType)
}

func ExtensionFor(mimeType string) string {
	switch NormalizeType(mimeType) {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	default:
		return "bin"
	}
}

// NormalizeType lower-cases mimeType, strips parameters and maps image/jpg to image/jpeg.
func NormalizeType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i != -1 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-ms-bmp", "image/x-bmp":
		return "image/bmp"
	}
	return mimeType
}

func IsSupported(mimeType string) bool {
	mimeType = NormalizeType(mimeType)
	for _, t := range SupportedTypes {
		if t == mimeType {
			return true
		}
	}
	return false
}
