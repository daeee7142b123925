package model

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

var keyPattern = regexp.MustCompile(`^[A-Z0-9]+(?:_[A-Z0-9]+)*$`)

// Catalog is the immutable set of known projects, keyed by project key.
type Catalog struct {
	projects map[string]ProjectDescriptor
}

type catalogFile struct {
	Projects []ProjectDescriptor `yaml:"projects"`
}

// DefaultCatalog returns the portfolio shipped with the site.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog([]ProjectDescriptor{
		{Key: "BUENOS_AIRES", Expected: 26},
		{Key: "FISHING_LODGE", Expected: 15},
		{Key: "CHATEAU_MARMOT", Expected: 20},
		{Key: "STUDIO", Expected: 12},
		{Key: "SEATTLE_HOUSE", Expected: 18},
		{Key: "CASA_MALIBU", Expected: 22},
		{Key: "SAND_CASTLE", Expected: 16},
		{Key: "ALI_WOOD", Expected: 10},
		{Key: "FIT_TO_BE_TIED", Expected: 10},
		{Key: "VW_VANS", Expected: 10},
		{Key: "MOCHILAS", Expected: 10},
	})
	return c
}

// NewCatalog validates descriptors. An empty Prefix defaults to the key.
func NewCatalog(projects []ProjectDescriptor) (*Catalog, error) {
	c := &Catalog{projects: make(map[string]ProjectDescriptor, len(projects))}
	for _, p := range projects {
		if !keyPattern.MatchString(p.Key) {
			return nil, fmt.Errorf("invalid project key %q", p.Key)
		}
		if _, dup := c.projects[p.Key]; dup {
			return nil, fmt.Errorf("duplicate project key %q", p.Key)
		}
		if p.Expected < 0 {
			return nil, fmt.Errorf("project %s: negative expected count", p.Key)
		}
		if p.Prefix == "" {
			p.Prefix = p.Key
		}
		c.projects[p.Key] = p
	}
	return c, nil
}

// LoadCatalog reads a YAML catalog of the form `projects: [{key, prefix, expected}]`.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(f.Projects) == 0 {
		return nil, fmt.Errorf("catalog %s has no projects", path)
	}
	return NewCatalog(f.Projects)
}

// Lookup returns the descriptor for key.
func (c *Catalog) Lookup(key string) (ProjectDescriptor, error) {
	p, ok := c.projects[key]
	if !ok {
		return ProjectDescriptor{}, &UnknownProjectError{Key: key}
	}
	return p, nil
}

// Projects returns all descriptors sorted by key.
func (c *Catalog) Projects() []ProjectDescriptor {
	out := make([]ProjectDescriptor, 0, len(c.projects))
	for _, p := range c.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
