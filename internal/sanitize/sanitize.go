// Package sanitize normalizes caller-supplied step text and identifiers before
// they reach scoring or the session store. Step content is otherwise stored
// verbatim: this package never rewrites markup, it only removes bytes that
// have no business in persisted text.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nvandessel/refinery/internal/models"
)

// MaxContentLength is the hard upper bound on step content accepted at the
// boundary. Scoring already penalizes anything past 20000 characters; this
// limit only protects the store.
const MaxContentLength = 200000

// MaxIdentifierLength bounds session and branch identifiers.
const MaxIdentifierLength = 128

// MaxContextItems bounds the number of assumption or constraint strings kept.
const MaxContextItems = 32

var (
	// reIdentifier matches the allowed identifier alphabet.
	reIdentifier = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]*$`)

	// reExcessiveNewlines matches 4 or more consecutive newlines.
	reExcessiveNewlines = regexp.MustCompile(`\n{4,}`)
)

// SanitizeStepContent prepares step content for scoring and storage.
//
// The pipeline runs in this order:
//  1. Drop invalid UTF-8 sequences
//  2. Normalize CRLF to LF
//  3. Strip null bytes and ASCII control characters (except \n, \t)
//  4. Collapse runs of 4+ newlines to 3
//  5. Trim leading/trailing whitespace
//  6. Truncate to MaxContentLength runes
func SanitizeStepContent(input string) string {
	if input == "" {
		return ""
	}

	s := strings.ToValidUTF8(input, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = stripControlChars(s)
	s = reExcessiveNewlines.ReplaceAllString(s, "\n\n\n")
	s = strings.TrimSpace(s)

	if utf8.RuneCountInString(s) > MaxContentLength {
		runes := []rune(s)
		s = string(runes[:MaxContentLength])
	}
	return s
}

// SanitizeContextItems strips control characters from each item, drops
// blanks and duplicates, and keeps at most MaxContextItems entries.
func SanitizeContextItems(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		s := strings.TrimSpace(stripControlChars(item))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == MaxContextItems {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SanitizeRecord returns a copy of rec with its content and context
// normalized. Scores and metrics are left alone.
func SanitizeRecord(rec models.StepRecord) models.StepRecord {
	rec.Content = SanitizeStepContent(rec.Content)
	rec.BranchID = strings.TrimSpace(rec.BranchID)
	rec.Context = models.StepContext{
		ProblemScope: SanitizeStepContent(rec.Context.ProblemScope),
		Assumptions:  SanitizeContextItems(rec.Context.Assumptions),
		Constraints:  SanitizeContextItems(rec.Context.Constraints),
	}
	return rec
}

// ValidIdentifier reports whether id is usable as a session or branch key.
func ValidIdentifier(id string) bool {
	if id == "" || len(id) > MaxIdentifierLength {
		return false
	}
	return reIdentifier.MatchString(id)
}

// stripControlChars removes ASCII control characters (0x00-0x1F) and DEL (0x7F) from
// the string, except for newline (0x0A) and tab (0x09) which are preserved.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r < 0x20 || r == 0x7F) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
