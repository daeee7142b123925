package objectstore

import (
	"context"
	"io"

	"github.com/sepich/project-image-cache/pkg/model"
)

// ObjectStore is the remote bucket holding project photos.
// Paths are "<prefix>/<name>" and never start with a slash.
type ObjectStore interface {
	// List returns the objects directly under prefix. A missing prefix is an empty list.
	List(ctx context.Context, prefix string) ([]model.RemoteObject, error)
	PublicURL(ctx context.Context, path string) (string, error)
	// Upload writes body to path, replacing any existing object.
	Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, path string) error
}

// uploadCacheControl matches what browsers are told for freshly uploaded photos.
const uploadCacheControl = "max-age=3600"
