package store

import (
	"time"

	"uwrangler/internal/geometry"
	"uwrangler/internal/media"
)

// Source is one ingested media file. The ID is the SHA-256 of its bytes;
// re-uploading identical content is a no-op, editing a file produces a new
// identity.
type Source struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Filename  string     `json:"filename"`
	Kind      media.Kind `json:"kind"`
	ByteSize  int64      `json:"byte_size"`
	FirstSeen time.Time  `json:"first_seen"`
}

// ArtifactMeta describes one cached frame sequence without its frame bytes.
type ArtifactMeta struct {
	SourceID       string
	Geometry       geometry.Geometry
	EncoderVersion int
	FrameCount     int
	Loop           bool
	ByteSize       int64
	CreatedAt      time.Time
	LastServed     *time.Time
	ServedCount    int64
}

// SortKey selects the ordering for listing queries.
type SortKey string

const (
	SortByName   SortKey = "name"
	SortBySize   SortKey = "size"
	SortByDate   SortKey = "date"
	SortByServed SortKey = "served"
)

// ListQuery shapes a paged metadata listing for the management UI.
type ListQuery struct {
	Search  string
	SortBy  SortKey
	Desc    bool
	Page    int
	PerPage int
}

// ListEntry is one source row in a listing, with artifact aggregates and the
// latest conversion outcome attached.
type ListEntry struct {
	Source        Source
	ArtifactCount int
	ArtifactBytes int64
	ServedTotal   int64
	Geometries    []string
	JobStatus     string
	JobError      string
}

// ListResult is one page of listing entries.
type ListResult struct {
	Entries    []ListEntry
	Page       int
	PerPage    int
	TotalItems int
	TotalPages int
}

// Stats summarizes cache occupancy for diagnostics.
type Stats struct {
	Sources       int   `json:"sources"`
	Artifacts     int   `json:"artifacts"`
	ArtifactBytes int64 `json:"artifact_bytes"`
	MaxBytes      int64 `json:"max_bytes"`
	MaxArtifacts  int   `json:"max_artifacts"`
}
