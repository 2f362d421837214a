// Package merge combines per-chunk transcripts into one text. Chunks are
// cut with overlap at silence boundaries, so adjacent transcripts often
// repeat a few words; Merge removes the longest repeated seam before
// joining.
package merge

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/smap/stt-worker/internal/job"
)

// Overlap search bounds in characters. Seams shorter than minOverlap are
// too likely to be coincidental words; longer than maxOverlap never occur
// with the chunk sizes the pipeline produces.
const (
	minOverlap = 10
	maxOverlap = 100
)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	punctRunRe    = regexp.MustCompile(`([.!?])[.!?]+`)
	spaceBeforeRe = regexp.MustCompile(`\s+([.,!?;:])`)
	spaceAfterRe  = regexp.MustCompile(`([.,!?;:])(\S)`)
	spaceCloseRe  = regexp.MustCompile(`\s+([)\]}»"'])`)
)

// Clean normalizes one chunk transcript: trims, collapses internal
// whitespace, and deduplicates runs of terminal punctuation.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = punctRunRe.ReplaceAllString(text, "$1")
	return text
}

// Merge joins transcripts in order, removing the overlap between each
// adjacent pair. The longest case-insensitive match between the suffix of
// the accumulated text and the prefix of the next transcript wins; when no
// overlap of at least minOverlap characters exists, the texts are joined
// with a single space.
func Merge(texts []string) string {
	var merged string
	for _, t := range texts {
		t = Clean(t)
		if t == "" {
			continue
		}
		if merged == "" {
			merged = t
			continue
		}
		cut := overlapLen(merged, t)
		t = strings.TrimSpace(t[cut:])
		if t == "" {
			continue
		}
		merged = merged + " " + t
	}
	return merged
}

// overlapLen returns the length of the longest suffix of a that matches a
// prefix of b, searched from maxOverlap down so the longest seam wins.
// Cut points that would split a multi-byte rune are skipped.
func overlapLen(a, b string) int {
	limit := maxOverlap
	if len(a) < limit {
		limit = len(a)
	}
	if len(b) < limit {
		limit = len(b)
	}
	for l := limit; l >= minOverlap; l-- {
		if !utf8.RuneStart(a[len(a)-l]) {
			continue
		}
		if l < len(b) && !utf8.RuneStart(b[l]) {
			continue
		}
		if strings.EqualFold(a[len(a)-l:], b[:l]) {
			return l
		}
	}
	return 0
}

// Finalize cleans up the merged text: punctuation spacing, closing
// bracket and quote spacing, and a capitalized first letter.
func Finalize(text string) string {
	text = Clean(text)
	text = spaceBeforeRe.ReplaceAllString(text, "$1")
	text = spaceAfterRe.ReplaceAllString(text, "$1 $2")
	text = spaceCloseRe.ReplaceAllString(text, "$1")
	return capitalizeFirst(text)
}

// MergeChunks merges the completed chunks of a job in index order,
// skipping failed chunks, and returns the finalized transcript.
func MergeChunks(chunks []job.Chunk) string {
	completed := make([]job.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Status == job.ChunkCompleted {
			completed = append(completed, c)
		}
	}
	sort.Slice(completed, func(i, k int) bool { return completed[i].Index < completed[k].Index })

	texts := make([]string, len(completed))
	for i, c := range completed {
		texts[i] = c.Text
	}
	return Finalize(Merge(texts))
}

func capitalizeFirst(s string) string {
	for i, r := range s {
		if unicode.IsLetter(r) {
			return s[:i] + string(unicode.ToUpper(r)) + s[i+len(string(r)):]
		}
		if !unicode.IsSpace(r) && !unicode.IsPunct(r) {
			break
		}
	}
	return s
}
