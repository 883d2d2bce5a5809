package conflict

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// deriveLineRanges computes the 1-indexed line ranges touched going
// from oldContent to newContent, using go-diff's line-mode diff.
func deriveLineRanges(oldContent, newContent string) []types.LineRange {
	if oldContent == newContent {
		return nil
	}

	dmp := diffmatchpatch.New()
	oldRunes, newRunes, lines := dmp.DiffLinesToRunes(oldContent, newContent)
	diffs := dmp.DiffMainRunes(oldRunes, newRunes, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var ranges []types.LineRange
	newLine := 1
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") && d.Text != "" {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			newLine += n
		case diffmatchpatch.DiffInsert:
			if n > 0 {
				ranges = append(ranges, types.LineRange{Start: newLine, End: newLine + n - 1})
			}
			newLine += n
		case diffmatchpatch.DiffDelete:
			// Deletions don't advance newLine, but still mark the
			// insertion point as touched so overlap detection sees it.
			ranges = append(ranges, types.LineRange{Start: newLine, End: newLine})
		}
	}
	return ranges
}

// countLines returns the number of lines in content, treating a
// trailing newline as not starting a new (empty) line.
func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// scanPrefixes does the "simple prefix scan" semantic extraction for
// Python-like source: functions/classes defined, and imports touched.
func scanPrefixes(content string) (functions, classes, imports []string) {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "def "):
			functions = append(functions, extractName(trimmed, "def "))
		case strings.HasPrefix(trimmed, "class "):
			classes = append(classes, extractName(trimmed, "class "))
		case strings.HasPrefix(trimmed, "import "), strings.HasPrefix(trimmed, "from "):
			imports = append(imports, trimmed)
		}
	}
	return functions, classes, imports
}

func extractName(line, prefix string) string {
	rest := strings.TrimPrefix(line, prefix)
	for i, r := range rest {
		if r == '(' || r == ':' || r == ' ' {
			return rest[:i]
		}
	}
	return rest
}
