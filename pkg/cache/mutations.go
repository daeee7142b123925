package cache

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sepich/project-image-cache/pkg/model"
	"github.com/sepich/project-image-cache/pkg/resolver"
)

const defaultImageExt = "jpg"

// ImageFile is an image to be stored under a project ordinal.
type ImageFile struct {
	Name        string // original file name, only its extension is used
	Body        io.Reader
	Size        int64
	ContentType string
}

// MutationResult is returned by uploads and deletes; exactly one field is set.
type MutationResult struct {
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failed(err error) MutationResult {
	return MutationResult{Error: err.Error()}
}

// Ext returns the lowercased extension of name, or jpg when it has none.
func Ext(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" {
		return defaultImageExt
	}
	return ext
}

// UploadProjectImage stores file as <prefix>/<ordinal>.<ext>, replacing any
// image that already had this ordinal, then reloads the project. A failed
// upload leaves the cache untouched.
func (s *Store) UploadProjectImage(ctx context.Context, key string, file ImageFile, ordinal int) MutationResult {
	p, err := s.catalog.Lookup(key)
	if err != nil {
		s.metrics.IncMutation("upload", "error")
		return failed(err)
	}
	if ordinal < 1 {
		s.metrics.IncMutation("upload", "error")
		return failed(fmt.Errorf("invalid ordinal %d", ordinal))
	}

	ext := Ext(file.Name)
	objectPath := model.ImagePath(p.Prefix, ordinal, ext)
	contentType := file.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension("." + ext)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, s.resolver.Timeout())
	err = s.objects.Upload(uploadCtx, objectPath, file.Body, file.Size, contentType)
	cancel()
	if err != nil {
		s.log.Warn("upload failed", zap.String("project", key), zap.String("path", objectPath), zap.Error(err))
		s.metrics.IncMutation("upload", "error")
		return failed(err)
	}
	s.log.Info("uploaded image", zap.String("project", key), zap.String("path", objectPath))

	s.removeSiblings(ctx, p, ordinal, path.Base(objectPath))
	s.refresh(ctx, key)
	s.metrics.IncMutation("upload", "ok")
	return MutationResult{Success: true}
}

// DeleteProjectImage removes the image carrying ordinal and reloads the project.
func (s *Store) DeleteProjectImage(ctx context.Context, key string, ordinal int) MutationResult {
	p, err := s.catalog.Lookup(key)
	if err != nil {
		s.metrics.IncMutation("delete", "error")
		return failed(err)
	}

	name, err := s.resolver.FindImage(ctx, p.Prefix, ordinal)
	if err != nil {
		s.metrics.IncMutation("delete", "error")
		return failed(err)
	}

	removeCtx, cancel := context.WithTimeout(ctx, s.resolver.Timeout())
	err = s.objects.Remove(removeCtx, p.Prefix+"/"+name)
	cancel()
	if err != nil {
		s.log.Warn("delete failed", zap.String("project", key), zap.String("name", name), zap.Error(err))
		s.metrics.IncMutation("delete", "error")
		return failed(err)
	}
	s.log.Info("deleted image", zap.String("project", key), zap.String("name", name))

	s.refresh(ctx, key)
	s.metrics.IncMutation("delete", "ok")
	return MutationResult{Success: true}
}

// removeSiblings deletes objects sharing ordinal under another extension,
// e.g. 3.JPG once 3.jpg was uploaded.
func (s *Store) removeSiblings(ctx context.Context, p model.ProjectDescriptor, ordinal int, keep string) {
	objects, err := s.resolver.ListRemoteObjects(ctx, p.Prefix)
	if err != nil {
		return
	}
	for _, o := range objects {
		n, ok := resolver.ParseOrdinal(o.Name)
		if !ok || n != ordinal || o.Name == keep {
			continue
		}
		removeCtx, cancel := context.WithTimeout(ctx, s.resolver.Timeout())
		if err := s.objects.Remove(removeCtx, p.Prefix+"/"+o.Name); err != nil {
			s.log.Warn("could not remove replaced image", zap.String("project", p.Key), zap.String("name", o.Name), zap.Error(err))
		}
		cancel()
	}
}

// refresh clears the project's freshness record and loads it again. A
// resolution that started before the change neither serves the reload nor
// commits over it.
func (s *Store) refresh(ctx context.Context, key string) {
	s.mu.Lock()
	s.generation[key]++
	s.mu.Unlock()
	s.ClearProjectCache(ctx, key)
	s.flight.Forget(key)
	s.LoadProject(ctx, key)
}

// LoadAll loads every catalog project concurrently.
func (s *Store) LoadAll(ctx context.Context) map[string][]string {
	var (
		mu  sync.Mutex
		out = map[string][]string{}
		g   errgroup.Group
	)
	for _, p := range s.catalog.Projects() {
		g.Go(func() error {
			images := s.LoadProject(ctx, p.Key)
			mu.Lock()
			out[p.Key] = images
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
