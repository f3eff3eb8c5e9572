package chapter

import (
	"context"
	"io"
	"time"
)

// Ledger is the durable set of announcement links that were fully processed.
type Ledger interface {
	Contains(link string) bool
	Record(ctx context.Context, link string) error
}

// LinkResolver finds the storage-provider link on an announcement's landing page.
// ok is false when the page carries no such link yet.
type LinkResolver interface {
	Resolve(ctx context.Context, pageURL string) (link string, ok bool, err error)
}

// Provider retrieves archives from one storage service.
type Provider interface {
	Name() string
	Matches(link string) bool
	// Retrieve downloads link into dir and returns the written file name.
	Retrieve(ctx context.Context, link string, dir string) (string, error)
}

// ArchiveFetcher retrieves the archive behind a storage link into dir.
type ArchiveFetcher interface {
	Fetch(ctx context.Context, link string, dir string) (Archive, error)
}

// Extractor unpacks an archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath string, destDir string) error
}

// Assembler turns a directory of page images into a document.
type Assembler interface {
	Assemble(ctx context.Context, imageDir string, chapterNumber int) (Document, error)
}

// DocumentStore persists finished documents and refuses to overwrite them.
type DocumentStore interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
	Exists(name string) (string, bool)
}

// BlobStore mirrors artifacts to remote object storage.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// FeedSource lists the current feed entries.
type FeedSource interface {
	Entries(ctx context.Context) ([]Announcement, error)
}

// Processor runs the pipeline for one announcement.
type Processor interface {
	Process(ctx context.Context, ann Announcement) Outcome
}

// Hasher computes content digests for integrity metadata.
type Hasher interface {
	Sum(r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
