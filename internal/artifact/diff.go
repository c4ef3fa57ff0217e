package artifact

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// SectionChange summarises line edits to one section of a bundle
type SectionChange struct {
	Section string
	Added   int
	Removed int
}

// Changed reports whether the section differs at all.
func (c SectionChange) Changed() bool {
	return c.Added > 0 || c.Removed > 0
}

// Changes lists per-section edits between two bundles
type Changes []SectionChange

// Any reports whether any section changed.
func (cs Changes) Any() bool {
	for _, c := range cs {
		if c.Changed() {
			return true
		}
	}
	return false
}

func (cs Changes) String() string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		if !c.Changed() {
			parts = append(parts, c.Section+": unchanged")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: +%d -%d", c.Section, c.Added, c.Removed))
	}
	return strings.Join(parts, ", ")
}

// Diff compares old and updated line by line for each of the three sections.
func Diff(old, updated Bundle) Changes {
	return Changes{
		diffSection("script", old.PrimaryFile, updated.PrimaryFile),
		diffSection("requirements", old.Manifest, updated.Manifest),
		diffSection("readme", old.Docs, updated.Docs),
	}
}

func diffSection(name, a, b string) SectionChange {
	change := SectionChange{Section: name}
	if a == b {
		return change
	}

	dmp := diffmatchpatch.New()
	runesA, runesB, lines := dmp.DiffLinesToRunes(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(runesA, runesB, false), lines)

	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			change.Added += n
		case diffmatchpatch.DiffDelete:
			change.Removed += n
		}
	}
	return change
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
