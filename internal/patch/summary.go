// Package patch inspects and applies the unified diffs produced by
// execution units.
package patch

import (
	"fmt"
	"strings"
)

// FileStat holds the per-file line counts accumulated from a diff.
type FileStat struct {
	Path    string
	Added   int
	Removed int
}

// Stats scans a unified diff and returns one FileStat per file section,
// in file-appearance order. Lines starting with a single +/- count as
// added/removed; the +++/--- header lines do not.
func Stats(diff string) []FileStat {
	var stats []FileStat
	var current *FileStat

	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			if current != nil {
				stats = append(stats, *current)
			}
			current = &FileStat{Path: diffPath(line)}
			continue
		}
		if current == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			current.Added++
		case strings.HasPrefix(line, "-"):
			current.Removed++
		}
	}
	if current != nil {
		stats = append(stats, *current)
	}
	return stats
}

// Summarize returns "path (+A/-D)" strings for each file in the diff.
// Empty input yields an empty list.
func Summarize(diff string) []string {
	stats := Stats(diff)
	lines := make([]string, 0, len(stats))
	for _, s := range stats {
		lines = append(lines, fmt.Sprintf("%s (+%d/-%d)", s.Path, s.Added, s.Removed))
	}
	return lines
}

// diffPath extracts the post-image path from a "diff --git a/X b/Y" line.
func diffPath(line string) string {
	rest := strings.TrimPrefix(line, "diff --git ")
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return rest
	}
	return strings.TrimPrefix(fields[1], "b/")
}
