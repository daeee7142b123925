package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sepich/project-image-cache/pkg/model"
)

var _ ObjectStore = &DirStore{}

// DirStore keeps objects as plain files under Root, for local development.
// Public links are BaseURL joined with the object path; serve Root there.
type DirStore struct {
	Root    string
	BaseURL string
}

func (d *DirStore) List(ctx context.Context, prefix string) ([]model.RemoteObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := d.path(prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var out []model.RemoteObject
	for _, e := range entries {
		// skip directories and temp files left by interrupted uploads
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, model.RemoteObject{Name: e.Name(), Size: info.Size()})
	}
	return out, nil
}

func (d *DirStore) PublicURL(_ context.Context, path string) (string, error) {
	if _, err := d.path(path); err != nil {
		return "", err
	}
	base := d.BaseURL
	if base == "" {
		base = "/"
	}
	return url.JoinPath(base, strings.Split(path, "/")...)
}

// Upload writes to a temporary file first and renames it into place.
func (d *DirStore) Upload(ctx context.Context, path string, body io.Reader, _ int64, _ string) error {
	filePath, err := d.path(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	file, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return err
	}
	_, err = io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(file.Name())
		return err
	}
	if err := os.Rename(file.Name(), filePath); err != nil {
		os.Remove(file.Name())
		return err
	}
	return nil
}

func (d *DirStore) Remove(_ context.Context, path string) error {
	filePath, err := d.path(path)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *DirStore) path(p string) (string, error) {
	clean := filepath.Clean("/" + p)
	if clean == "/" || strings.Contains(p, "..") {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	return filepath.Join(d.Root, clean), nil
}
