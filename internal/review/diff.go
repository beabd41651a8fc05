// Package review holds the pure helpers used while judging outputs: a
// line-level LCS diff for before/after code, severity inference from
// free-text labels and summary similarity between competing outputs.
package review

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Line prefixes emitted by UnifiedDiff.
const (
	PrefixCommon  = " "
	PrefixRemoved = "-"
	PrefixAdded   = "+"
)

// DefaultContext is the number of unchanged lines kept around each hunk by
// RenderFileDiff.
const DefaultContext = 3

type opKind byte

const (
	opCommon  opKind = ' '
	opRemoved opKind = '-'
	opAdded   opKind = '+'
)

type op struct {
	kind opKind
	text string
}

// UnifiedDiff compares oldText and newText line by line and returns every line of
// the edit script prefixed with " ", "-" or "+". The script follows a
// longest common subsequence of lines, so identical inputs produce only
// common lines.
func UnifiedDiff(oldText, newText string) []string {
	ops := lineOps(strings.Split(oldText, "\n"), strings.Split(newText, "\n"))
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = string(o.kind) + o.text
	}
	return out
}

// lineOps walks the LCS table of a and b. On a tie between dropping from a
// or from b it removes first, so removals precede additions.
func lineOps(a, b []string) []op {
	n, m := len(a), len(b)

	// lcs[i][j] is the LCS length of a[i:] and b[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	ops := make([]op, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, op{opCommon, a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, op{opRemoved, a[i]})
			i++
		default:
			ops = append(ops, op{opAdded, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, op{opRemoved, a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, op{opAdded, b[j]})
	}
	return ops
}

// DiffStats counts the changed lines of a diff.
type DiffStats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Stats counts the added and removed lines in the output of UnifiedDiff.
func Stats(lines []string) DiffStats {
	var s DiffStats
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, PrefixAdded):
			s.Added++
		case strings.HasPrefix(l, PrefixRemoved):
			s.Removed++
		}
	}
	return s
}

// RenderFileDiff renders the change from oldText to newText as a git-style unified
// diff for path, with DefaultContext lines of context around each hunk. It
// returns the empty string when the texts are identical.
func RenderFileDiff(path, oldText, newText string) (string, error) {
	ops := lineOps(strings.Split(oldText, "\n"), strings.Split(newText, "\n"))
	hunks := buildHunks(ops, DefaultContext)
	if len(hunks) == 0 {
		return "", nil
	}

	fd := &diff.FileDiff{
		OrigName: "a/" + path,
		NewName:  "b/" + path,
		Hunks:    hunks,
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("failed to render diff for %s: %w", path, err)
	}
	return string(out), nil
}

// buildHunks groups changed ops into hunks, merging changes whose context
// windows touch.
func buildHunks(ops []op, context int) []*diff.Hunk {
	// oldPos[k] and newPos[k] are the line counts consumed before ops[k].
	oldPos := make([]int, len(ops)+1)
	newPos := make([]int, len(ops)+1)
	var changes []int
	for k, o := range ops {
		oldPos[k+1], newPos[k+1] = oldPos[k], newPos[k]
		if o.kind != opAdded {
			oldPos[k+1]++
		}
		if o.kind != opRemoved {
			newPos[k+1]++
		}
		if o.kind != opCommon {
			changes = append(changes, k)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var hunks []*diff.Hunk
	groupStart := changes[0]
	for c := 1; c <= len(changes); c++ {
		if c < len(changes) && changes[c]-changes[c-1] <= 2*context {
			continue
		}
		from := max(0, groupStart-context)
		to := min(len(ops), changes[c-1]+context+1)
		hunks = append(hunks, makeHunk(ops, oldPos, newPos, from, to))
		if c < len(changes) {
			groupStart = changes[c]
		}
	}
	return hunks
}

func makeHunk(ops []op, oldPos, newPos []int, from, to int) *diff.Hunk {
	var body strings.Builder
	for _, o := range ops[from:to] {
		body.WriteByte(byte(o.kind))
		body.WriteString(o.text)
		body.WriteByte('\n')
	}

	origLines := oldPos[to] - oldPos[from]
	newLines := newPos[to] - newPos[from]
	origStart, newStart := oldPos[from], newPos[from]
	if origLines > 0 {
		origStart++
	}
	if newLines > 0 {
		newStart++
	}
	return &diff.Hunk{
		OrigStartLine: int32(origStart),
		OrigLines:     int32(origLines),
		NewStartLine:  int32(newStart),
		NewLines:      int32(newLines),
		Body:          []byte(body.String()),
	}
}
