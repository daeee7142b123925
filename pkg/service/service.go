package service

import (
	"context"

	"github.com/sepich/project-image-cache/pkg/cache"
	"github.com/sepich/project-image-cache/pkg/model"
)

// Service is what the HTTP layer needs from the image cache.
type Service interface {
	Projects() []model.ProjectDescriptor
	ProjectImages(ctx context.Context, key string) (*ImagesView, error)
	ProjectProgress(key string) (model.ProgressRecord, error)
	UploadImage(ctx context.Context, key string, ordinal int, file cache.ImageFile) error
	DeleteImage(ctx context.Context, key string, ordinal int) error
	ClearCache(ctx context.Context, key string) error
}

// ImagesView is what a gallery page renders.
type ImagesView struct {
	Project  string                `json:"project"`
	Expected int                   `json:"expected"`
	Images   []string              `json:"images"`
	Cached   bool                  `json:"cached"`
	Loading  bool                  `json:"loading"`
	Progress *model.ProgressRecord `json:"progress,omitempty"`
	Error    string                `json:"error,omitempty"`
}

type GalleryService struct {
	Store *cache.Store
}

var _ Service = &GalleryService{}

func (s *GalleryService) Projects() []model.ProjectDescriptor {
	return s.Store.Catalog().Projects()
}

func (s *GalleryService) ProjectImages(ctx context.Context, key string) (*ImagesView, error) {
	p, err := s.Store.Catalog().Lookup(key)
	if err != nil {
		return nil, err
	}
	res := s.Store.Load(ctx, key)
	view := &ImagesView{
		Project:  key,
		Expected: p.Expected,
		Images:   res.Images,
		Cached:   res.Cached,
		Loading:  s.Store.IsProjectLoading(key),
	}
	if progress, ok := s.Store.GetProjectProgress(key); ok {
		view.Progress = &progress
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	return view, nil
}

func (s *GalleryService) ProjectProgress(key string) (model.ProgressRecord, error) {
	if _, err := s.Store.Catalog().Lookup(key); err != nil {
		return model.ProgressRecord{}, err
	}
	progress, ok := s.Store.GetProjectProgress(key)
	if !ok {
		return model.ProgressRecord{}, ErrProgressUnknown
	}
	return progress, nil
}

func (s *GalleryService) UploadImage(ctx context.Context, key string, ordinal int, file cache.ImageFile) error {
	if _, err := s.Store.Catalog().Lookup(key); err != nil {
		return err
	}
	return mutationErr("upload", s.Store.UploadProjectImage(ctx, key, file, ordinal))
}

func (s *GalleryService) DeleteImage(ctx context.Context, key string, ordinal int) error {
	if _, err := s.Store.Catalog().Lookup(key); err != nil {
		return err
	}
	return mutationErr("delete", s.Store.DeleteProjectImage(ctx, key, ordinal))
}

// ClearCache clears one project, or all of them when key is empty.
func (s *GalleryService) ClearCache(ctx context.Context, key string) error {
	if key != "" {
		if _, err := s.Store.Catalog().Lookup(key); err != nil {
			return err
		}
	}
	s.Store.ClearProjectCache(ctx, key)
	return nil
}

func mutationErr(op string, res cache.MutationResult) error {
	if res.Success {
		return nil
	}
	if res.Error == model.ErrImageNotFound.Error() {
		return model.ErrImageNotFound
	}
	return &MutationError{Op: op, Msg: res.Error}
}
