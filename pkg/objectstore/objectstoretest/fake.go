// Package objectstoretest provides an in-memory ObjectStore for tests.
package objectstoretest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/sepich/project-image-cache/pkg/model"
	"github.com/sepich/project-image-cache/pkg/objectstore"
)

var ErrInjected = errors.New("injected failure")

var _ objectstore.ObjectStore = &Fake{}

// Fake keeps objects in a map and counts calls. Fail* fields make the
// matching operation return ErrInjected. ListGate, when set, blocks List
// until a value is received or the channel is closed.
type Fake struct {
	BaseURL string

	mu        sync.Mutex
	objects   map[string][]byte
	listCalls map[string]int

	FailList    bool
	FailUpload  bool
	FailRemove  bool
	FailURLFor  map[string]bool
	ListGate    chan struct{}
	ListStarted chan string
}

func New(paths ...string) *Fake {
	f := &Fake{
		BaseURL:   "https://storage.test/projects",
		objects:   map[string][]byte{},
		listCalls: map[string]int{},
	}
	for _, p := range paths {
		f.objects[p] = []byte(p)
	}
	return f
}

func (f *Fake) Put(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = []byte(path)
}

func (f *Fake) SetFailList(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailList = fail
}

func (f *Fake) ListCalls(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[prefix]
}

func (f *Fake) Has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok
}

func (f *Fake) List(ctx context.Context, prefix string) ([]model.RemoteObject, error) {
	f.mu.Lock()
	f.listCalls[prefix]++
	gate, started, fail := f.ListGate, f.ListStarted, f.FailList
	f.mu.Unlock()

	if started != nil {
		started <- prefix
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, ErrInjected
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.RemoteObject
	dir := prefix + "/"
	for p, body := range f.objects {
		name, ok := strings.CutPrefix(p, dir)
		if !ok || strings.Contains(name, "/") {
			continue
		}
		out = append(out, model.RemoteObject{Name: name, Size: int64(len(body))})
	}
	return out, nil
}

func (f *Fake) PublicURL(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailURLFor[path] {
		return "", ErrInjected
	}
	return f.BaseURL + "/" + path, nil
}

func (f *Fake) Upload(_ context.Context, path string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUpload {
		return ErrInjected
	}
	f.objects[path] = data
	return nil
}

func (f *Fake) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRemove {
		return ErrInjected
	}
	delete(f.objects, path)
	return nil
}
