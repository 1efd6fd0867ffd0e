// Package imagehost pushes images to a public object store so that models
// which only accept URLs can fetch them.
package imagehost

import (
	"context"
	"fmt"
	"strings"

	"photoart/datauri"

	"github.com/google/uuid"
)

// Upload describes a stored image.
type Upload struct {
	ID  string
	URL string
}

// Uploader stores an image and returns a dereferenceable URL for it.
type Uploader interface {
	Name() string
	// HasCredentials reports whether the host's access key is configured.
	HasCredentials() bool
	Upload(ctx context.Context, data []byte, filename, contentType string) (*Upload, error)
	// Delete removes a previous upload. Hosts without deletion return nil.
	Delete(ctx context.Context, id string) error
}

// Filename returns a unique upload name with an extension matching mimeType.
func Filename(mimeType string) string {
	return fmt.Sprintf("photoart-%s.%s", uuid.NewString(), datauri.ExtensionFor(mimeType))
}

func hasKey(key string) bool {
	return strings.TrimSpace(key) != ""
}
