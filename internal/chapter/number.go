package chapter

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	fileNamePattern = regexp.MustCompile(`(?i)^c(\d+)$`)
	digitRun        = regexp.MustCompile(`\d+`)
)

// NumberStrategy derives a chapter number from one source.
type NumberStrategy struct {
	Name   string
	Derive func(archiveName, title string) (int, bool)
}

// DefaultNumberStrategies tries the archive file name first, then the title.
func DefaultNumberStrategies() []NumberStrategy {
	return []NumberStrategy{
		{Name: "file_name", Derive: func(archiveName, _ string) (int, bool) { return FromFileName(archiveName) }},
		{Name: "title", Derive: func(_, title string) (int, bool) { return FromTitle(title) }},
	}
}

// FromFileName parses names shaped like "c1502.rar".
func FromFileName(name string) (int, bool) {
	base := filepath.Base(strings.TrimSpace(name))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	m := fileNamePattern.FindStringSubmatch(stem)
	if m == nil {
		return 0, false
	}
	return positive(m[1])
}

// FromTitle returns the single number mentioned in title. Titles carrying
// several distinct numbers are ambiguous and rejected.
func FromTitle(title string) (int, bool) {
	runs := digitRun.FindAllString(title, -1)
	if len(runs) == 0 {
		return 0, false
	}
	n, ok := positive(runs[0])
	if !ok {
		return 0, false
	}
	for _, r := range runs[1:] {
		other, ok := positive(r)
		if !ok || other != n {
			return 0, false
		}
	}
	return n, true
}

// DeriveNumber walks strategies in order and returns the first hit.
func DeriveNumber(strategies []NumberStrategy, archiveName, title string) (int, string, error) {
	for _, s := range strategies {
		if n, ok := s.Derive(archiveName, title); ok {
			return n, s.Name, nil
		}
	}
	return 0, "", fmt.Errorf("archive %q, title %q: %w", archiveName, title, ErrChapterNumber)
}

// DocumentName builds "<series> - 0042.pdf".
func DocumentName(series string, number int) string {
	return fmt.Sprintf("%s - %04d.pdf", strings.TrimSpace(series), number)
}

func positive(digits string) (int, bool) {
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
