// Package tooling holds the source-level helpers behind the svcl CLI:
// formatting, linting and lockfiles.
package tooling

import (
	"fmt"
	"strings"
)

const (
	indentWidth   = 2
	MaxLineLength = 120
)

// Format expands tabs to two spaces, trims trailing whitespace and ends the
// source with exactly one newline. Blank-only input formats to "".
func Format(src string) string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		line = strings.ReplaceAll(line, "\t", strings.Repeat(" ", indentWidth))
		lines[i] = strings.TrimRight(line, " ")
	}
	out := strings.TrimRight(strings.Join(lines, "\n"), "\n")
	if out == "" {
		return ""
	}
	return out + "\n"
}

type Issue struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%d:%d: %s (%s)", i.Line, i.Column, i.Message, i.Rule)
}

// Lint reports tab characters, trailing whitespace and long lines, in line order.
func Lint(src string) []Issue {
	var issues []Issue
	for n, line := range strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n") {
		lineNo := n + 1
		if col := strings.IndexByte(line, '\t'); col >= 0 {
			issues = append(issues, Issue{Line: lineNo, Column: col + 1, Rule: "no-tabs", Message: "tab character; indent with spaces"})
		}
		if trimmed := strings.TrimRight(line, " \t"); len(trimmed) < len(line) {
			issues = append(issues, Issue{Line: lineNo, Column: len(trimmed) + 1, Rule: "trailing-whitespace", Message: "trailing whitespace"})
		}
		if width := len([]rune(line)); width > MaxLineLength {
			issues = append(issues, Issue{
				Line:    lineNo,
				Column:  MaxLineLength + 1,
				Rule:    "line-length",
				Message: fmt.Sprintf("line is %d characters; limit is %d", width, MaxLineLength),
			})
		}
	}
	return issues
}
