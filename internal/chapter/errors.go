package chapter

import (
	"errors"
	"fmt"
)

var (
	// ErrNoStorageLink means the landing page does not (yet) link to the storage provider.
	ErrNoStorageLink = errors.New("no storage provider link on landing page")
	// ErrNoProvider means no configured provider accepts the storage link.
	ErrNoProvider = errors.New("no provider accepts link")
	// ErrChapterNumber means the chapter number is missing or ambiguous.
	ErrChapterNumber = errors.New("chapter number could not be derived")
	// ErrNoImages means no decodable page image was found.
	ErrNoImages = errors.New("no valid images to assemble")
	// ErrExists means a document with the same name was already written.
	ErrExists = errors.New("document already exists")
)

// FetchError reports a network or HTTP failure while fetching a resource.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExtractErrorKind classifies extraction failures.
type ExtractErrorKind int

// Extraction failure kinds.
const (
	ExtractIO ExtractErrorKind = iota
	ExtractToolUnavailable
	ExtractCorrupt
)

func (k ExtractErrorKind) String() string {
	switch k {
	case ExtractToolUnavailable:
		return "tool_unavailable"
	case ExtractCorrupt:
		return "corrupt"
	default:
		return "io"
	}
}

// ExtractError reports why an archive could not be unpacked.
type ExtractError struct {
	Kind    ExtractErrorKind
	Archive string
	Err     error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Archive, e.Kind, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// Error severity classes used in logs and metrics.
const (
	SeverityNetwork     = "transient_network"
	SeverityEnvironment = "environment"
	SeverityIntegrity   = "data_integrity"
	SeverityLocalIO     = "local_io"
	SeverityUnknown     = "unknown"
)

// Severity maps an error to its handling class.
func Severity(err error) string {
	if err == nil {
		return ""
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return SeverityNetwork
	}
	var extractErr *ExtractError
	if errors.As(err, &extractErr) {
		switch extractErr.Kind {
		case ExtractToolUnavailable:
			return SeverityEnvironment
		case ExtractCorrupt:
			return SeverityIntegrity
		default:
			return SeverityLocalIO
		}
	}
	switch {
	case errors.Is(err, ErrChapterNumber), errors.Is(err, ErrNoImages):
		return SeverityIntegrity
	case errors.Is(err, ErrNoStorageLink), errors.Is(err, ErrNoProvider):
		return SeverityNetwork
	default:
		return SeverityUnknown
	}
}
