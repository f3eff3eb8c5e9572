package chapter

import "time"

// Stage names one step of the ingestion pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageResolveLink  Stage = "resolve_link"
	StageFetchArchive Stage = "fetch_archive"
	StageDeriveNumber Stage = "derive_chapter_number"
	StageExtract      Stage = "extract"
	StageAssemble     Stage = "assemble_document"
	StageCleanup      Stage = "cleanup"
	StageRecord       Stage = "record"
	StageLedgerGate   Stage = "ledger_gate"
	StagePublish      Stage = "publish"
)

// Announcement is one feed entry that may announce a new chapter.
type Announcement struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
}

// Archive describes a retrieved archive sitting in the scratch area.
type Archive struct {
	Path     string
	FileName string
}

// Document is the assembled, in-memory PDF ready to be written.
type Document struct {
	Data  []byte
	Pages int
}

// Outcome reports what happened to one announcement.
type Outcome struct {
	RunID          string        `json:"run_id"`
	Link           string        `json:"link"`
	Chapter        int           `json:"chapter,omitempty"`
	DocumentPath   string        `json:"document_path,omitempty"`
	DocumentSHA256 string        `json:"document_sha256,omitempty"`
	Pages          int           `json:"pages,omitempty"`
	Skipped        bool          `json:"skipped,omitempty"`
	Stage          Stage         `json:"stage"`
	Duration       time.Duration `json:"duration"`
	Err            error         `json:"-"`
}

// Succeeded reports whether the announcement was fully processed in this run.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && !o.Skipped
}

// Status returns the metric/log label for the outcome.
func (o Outcome) Status() string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Err != nil:
		return "failed"
	default:
		return "succeeded"
	}
}

// CycleSummary counts what a single feed poll did.
type CycleSummary struct {
	Seen       int `json:"seen"`
	Candidates int `json:"candidates"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// EventChapterReady is published once a chapter document is stored and recorded.
const EventChapterReady = "chapter.ready"

// Event is the notification payload published after a chapter is ingested.
type Event struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id"`
	Chapter     int       `json:"chapter"`
	Link        string    `json:"link"`
	Document    string    `json:"document"`
	SHA256      string    `json:"sha256,omitempty"`
	Pages       int       `json:"pages,omitempty"`
	MirrorURI   string    `json:"mirror_uri,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
