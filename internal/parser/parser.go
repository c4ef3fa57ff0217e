// Package parser splits one free-text completion into named sections separated by literal
// sentinel tokens.
//
// Sentinels are matched as plain substrings. Content that happens to contain a sentinel is
// split at that point; no escaping is attempted.
package parser

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels of the bundle contract, in the order they must appear.
const (
	RequirementsDelimiter = "---REQUIREMENTS---"
	ReadmeDelimiter       = "---README---"
)

// BundleContract splits a response into primary file, manifest and docs.
var BundleContract = []string{RequirementsDelimiter, ReadmeDelimiter}

// ErrMissingDelimiter matches every *MissingDelimiterError.
var ErrMissingDelimiter = errors.New("missing delimiter")

// MissingDelimiterError reports the first sentinel that was not found where it was expected.
type MissingDelimiterError struct {
	Delimiter string
	Index     int
}

func (e *MissingDelimiterError) Error() string {
	return fmt.Sprintf("invalid response format: missing separator %q (position %d)", e.Delimiter, e.Index+1)
}

func (e *MissingDelimiterError) Is(target error) bool {
	return target == ErrMissingDelimiter
}

// Parse splits raw on each delimiter in order and returns len(delimiters)+1 trimmed sections.
// Each delimiter is searched for only in the text that follows the previous one.
func Parse(raw string, delimiters []string) ([]string, error) {
	sections := make([]string, 0, len(delimiters)+1)
	remainder := raw

	for state, delim := range delimiters {
		if delim == "" {
			return nil, fmt.Errorf("delimiter %d is empty", state+1)
		}
		before, after, found := strings.Cut(remainder, delim)
		if !found {
			return nil, &MissingDelimiterError{Delimiter: delim, Index: state}
		}
		sections = append(sections, strings.TrimSpace(before))
		remainder = after
	}

	return append(sections, strings.TrimSpace(remainder)), nil
}

// Sections is a response decomposed by BundleContract
type Sections struct {
	PrimaryFile string
	Manifest    string
	Docs        string
}

// ParseBundle parses raw with BundleContract.
func ParseBundle(raw string) (Sections, error) {
	parts, err := Parse(raw, BundleContract)
	if err != nil {
		return Sections{}, err
	}
	return Sections{PrimaryFile: parts[0], Manifest: parts[1], Docs: parts[2]}, nil
}

// CheckBundle reports whether raw satisfies BundleContract without keeping the sections.
func CheckBundle(raw string) error {
	_, err := ParseBundle(raw)
	return err
}
