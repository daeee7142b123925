package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var _ Persister = &FilePersister{}

// FilePersister writes the state as JSON to <Directory>/project-images-storage.json.
type FilePersister struct {
	Directory string
}

func (p *FilePersister) path() string {
	return filepath.Join(p.Directory, StoreName+".json")
}

func (p *FilePersister) Load(_ context.Context) (State, error) {
	raw, err := os.ReadFile(p.path())
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	} else if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", p.path(), err)
	}
	state.normalize()
	return state, nil
}

// Save writes to a temporary file and renames it over the previous state.
func (p *FilePersister) Save(_ context.Context, state State) error {
	if err := os.MkdirAll(p.Directory, 0755); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	file, err := os.CreateTemp(p.Directory, StoreName+"-*")
	if err != nil {
		return err
	}
	_, err = file.Write(data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(file.Name())
		return err
	}
	if err := os.Rename(file.Name(), p.path()); err != nil {
		os.Remove(file.Name())
		return err
	}
	return nil
}
