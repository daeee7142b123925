package persist

import (
	"context"

	"github.com/sepich/project-image-cache/pkg/model"
)

// StoreName names the persisted state wherever it lives (file, redis key).
const StoreName = "project-images-storage"

// State is the persisted part of the image cache. Loading flags and
// progress are process-local and never written.
type State struct {
	Images       map[string][]string          `json:"images"`
	ProjectCache map[string]model.CacheRecord `json:"projectCache"`
}

func NewState() State {
	return State{
		Images:       map[string][]string{},
		ProjectCache: map[string]model.CacheRecord{},
	}
}

// normalize makes a decoded state safe to write into.
func (s *State) normalize() {
	if s.Images == nil {
		s.Images = map[string][]string{}
	}
	if s.ProjectCache == nil {
		s.ProjectCache = map[string]model.CacheRecord{}
	}
}

// Persister loads and saves State. Load returns an empty State when
// nothing was saved yet.
type Persister interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

var _ Persister = Noop{}

// Noop keeps nothing across restarts.
type Noop struct{}

func (Noop) Load(context.Context) (State, error) { return NewState(), nil }
func (Noop) Save(context.Context, State) error   { return nil }
