package tracker

import (
	"regexp"
	"strings"
)

var (
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
	// Optional leading timestamp in the shapes agents commonly print:
	// "2026-01-02T15:04:05Z ", "[2026-01-02 15:04:05.123] ", "15:04:05 ".
	timestampPattern = regexp.MustCompile(`^\[?(\d{4}-\d{2}-\d{2}[T ])?\d{2}:\d{2}:\d{2}([.,]\d+)?(Z|[+-]\d{2}:?\d{2})?\]?[ \t]+`)
)

// normalizeLine strips ANSI escapes, surrounding whitespace and a leading
// timestamp so the same message printed at different times dedups to the
// same key.
func normalizeLine(line string) string {
	line = ansiPattern.ReplaceAllString(line, "")
	line = strings.TrimSpace(line)
	line = timestampPattern.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

var errorMarkers = []string{
	"ERROR",
	"Error:",
	"FAILED",
	"fatal:",
	"panic:",
	"WARN",
}

var progressPhrases = []string{
	"cloning repository",
	"unpacking workspace",
	"credentials applied",
	"baseline established",
	"running agent",
	"agent finished",
	"finished with exit code",
	"uploading patch",
	"all tests passed",
	"build succeeded",
}

// isMilestone reports whether a normalized output line is worth
// surfacing as an event. Structural markers and error markers pass,
// plus a small allow-list of progress phrases; everything else is
// agent chatter and stays out of the bus.
func isMilestone(line string) bool {
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "===") || strings.HasPrefix(line, "---") || strings.HasPrefix(line, "***") {
		return true
	}
	for _, m := range errorMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	lower := strings.ToLower(line)
	for _, p := range progressPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// tailLines returns the last n lines of raw output, skipping a trailing
// empty line from a final newline.
func tailLines(raw string, n int) []string {
	lines := strings.Split(raw, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
