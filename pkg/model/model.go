package model

import (
	"strconv"
	"time"
)

// DefaultBucket is the bucket that holds every project's photos.
const DefaultBucket = "projects"

// ProjectDescriptor is a static catalog entry.
type ProjectDescriptor struct {
	Key      string `yaml:"key" json:"key"`           // Uppercase snake-case identifier, e.g. CASA_MALIBU.
	Prefix   string `yaml:"prefix" json:"prefix"`     // Object path prefix inside the bucket. Defaults to Key.
	Expected int    `yaml:"expected" json:"expected"` // Display hint only, the bucket decides the real count.
}

// RemoteObject is one object found under a project prefix.
type RemoteObject struct {
	Name string // File name relative to the prefix, e.g. "7.JPG".
	Size int64
}

// ImageEntry is a resolved image reference.
type ImageEntry struct {
	Ordinal int
	URL     string
}

// ImagePath returns the object path for an ordinal, e.g. CASA_MALIBU/3.jpg.
func ImagePath(prefix string, ordinal int, ext string) string {
	return prefix + "/" + strconv.Itoa(ordinal) + "." + ext
}

// ProgressRecord reports how far a batched resolution got.
type ProgressRecord struct {
	Project string `json:"project"`
	Loaded  int    `json:"loaded"`
	Total   int    `json:"total"`
}

// CacheRecord is the freshness marker of a committed image set.
type CacheRecord struct {
	Timestamp time.Time `json:"timestamp"`
}

// Fresh reports whether the record is younger than ttl at now.
func (r CacheRecord) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.Timestamp) < ttl
}
