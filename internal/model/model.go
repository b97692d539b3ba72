// Package model holds the entity types of the memory store (§3 of the spec):
// Memory, Context, Relation, MemoryChunk, ArchiveRecord and StorageBackend
// descriptors. These are plain data carriers; behavior lives in the
// repository, router, dedup, and archival packages.
package model

import "time"

// AccessLevel controls who may read or write a Memory or Context.
type AccessLevel string

const (
	AccessPublic     AccessLevel = "public"
	AccessUser       AccessLevel = "user"
	AccessPrivileged AccessLevel = "privileged"
	AccessAdmin      AccessLevel = "admin"
)

// CompressionType tags the codec used for a blob or chunk.
type CompressionType string

const (
	CompressionNone  CompressionType = "none"
	CompressionZstd  CompressionType = "zstd"
	CompressionGzip  CompressionType = "gzip"
	CompressionZlib  CompressionType = "zlib"
)

// Memory is the unit of stored content.
type Memory struct {
	ID        int64
	Fingerprint string // optional content fingerprint, set once deduplication has run

	Title              string
	Content            []byte // nil when content is chunked or router-external; holds compressed bytes otherwise
	ContentSize        int64  // always the uncompressed byte count
	ContentCompressed  bool
	CompressionType    CompressionType
	ContentPreview     string // first N decompressed bytes, used by lazy loads and search

	OwnerID     string
	ContextID   *int64
	AccessLevel AccessLevel

	CreatedAt    time.Time
	UpdatedAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
	Version      int64

	Metadata map[string]string

	Embedding []byte // opaque vector bytes; semantic dedup/search is an external collaborator

	ExternalLocator string // non-empty when content lives outside the primary store (router-resolved)
}

// ContentLoaded reports whether Content holds the full decompressed bytes
// (eager read) or only a preview stub (lazy read, see facade.LoadFullContent).
type LazyMemory struct {
	Memory
	ContentLoaded bool
}

// Context is a named grouping of memories, owned by a user.
type Context struct {
	ID          int64
	Name        string
	Description string
	OwnerID     string
	AccessLevel AccessLevel
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Relation is a typed directed edge between two memories.
type Relation struct {
	ID             int64
	Name           string // e.g. "contains", "related", "next", "duplicate_of"
	SourceMemoryID int64
	TargetMemoryID int64
	Strength       float64 // [0.0, 1.0]
	Metadata       map[string]string
	OwnerID        string
}

// ChunkMetadata is the declared schema for a chunk's side information
// (spec §9 Open Question #1: the schema is implementer-chosen; this is it).
type ChunkMetadata struct {
	OriginalSize      uint64
	CompressedSize    uint64
	CompressionRatio  float64
	SHA256Hash        string
	WholeObjectSHA256 string // only set on chunk index 0
}

// MemoryChunk is one slice of a chunked memory's content.
type MemoryChunk struct {
	ID              int64
	MemoryID        int64
	ChunkIndex      int
	ChunkData       []byte // possibly compressed bytes
	CompressionType CompressionType
	Metadata        ChunkMetadata
}

// ArchiveStatus is the lifecycle state of an ArchiveRecord.
type ArchiveStatus string

const (
	ArchivePartial   ArchiveStatus = "partial"
	ArchiveCompleted ArchiveStatus = "completed"
	ArchiveVerified  ArchiveStatus = "verified"
	ArchiveCorrupted ArchiveStatus = "corrupted"
)

// ArchiveRecord describes one pack-file produced by the archival engine.
type ArchiveRecord struct {
	ArchiveID        string // uuid
	PolicyName       string
	CreatedAt        time.Time
	RetentionUntil   time.Time // zero value interpreted as "never" for policy_name=="permanent"
	SizeBytes        int64
	MemoryCount      int
	Checksum         string // sha256 of the (first) pack file; for a directory pack, of its files' paths and contents
	PackPath         string
	PartPaths        []string // additional parts, for split_large_archives
	Status           ArchiveStatus
	CompressionRatio float64
}

// BackendType enumerates the kinds of storage backend the router can hold.
type BackendType string

const (
	BackendLocal  BackendType = "local"
	BackendS3     BackendType = "s3"
	BackendAzure  BackendType = "azure"
	BackendGCS    BackendType = "gcs"
	BackendRedis  BackendType = "redis"
	BackendMemory BackendType = "memory"
)

// StorageBackend is a registered backend descriptor.
type StorageBackend struct {
	Name             string
	Type             BackendType
	Priority         int // lower = preferred
	Enabled          bool
	RedundancyFactor int // >= 1; set on the backend group, not per-backend, but kept here for config round-tripping
	Config           map[string]any
}
