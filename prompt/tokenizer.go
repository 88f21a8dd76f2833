package prompt

import (
	"regexp"
	"strings"
)

// factLinePattern marks lines that must survive truncation verbatim:
// totals, learned-at lines, due dates, created timestamps.
var factLinePattern = regexp.MustCompile(`(?i)^(total\s+classes|total\s+topics|total\s+rows|total\s+courses|total\s+assignments|learned at|earliest|latest|due_date|due date|created at)[:\s]`)

// CountTokens approximates the subword token count of text. Without a
// bound tokenizer the whitespace word count is used; budgets elsewhere are
// sized for this approximation.
func CountTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return len(strings.Fields(text))
}

// TruncateHeadTailPreserveFacts trims text to charBudget characters. Fact
// lines are extracted and prepended verbatim; the remaining budget is
// split between a head prefix and a tail suffix joined by an ellipsis.
func TruncateHeadTailPreserveFacts(text string, charBudget int) string {
	if text == "" {
		return ""
	}
	if len(text) <= charBudget {
		return text
	}

	var facts, body strings.Builder
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if factLinePattern.MatchString(strings.TrimSpace(line)) {
			facts.WriteString(line)
			facts.WriteString("\n")
		} else {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}

	remaining := charBudget - facts.Len()
	if remaining <= 0 {
		f := facts.String()
		if len(f) > charBudget {
			return f[:charBudget]
		}
		return f
	}

	bodyStr := strings.TrimSpace(body.String())
	if len(bodyStr) <= remaining {
		return facts.String() + bodyStr
	}

	half := remaining / 2
	head := bodyStr[:min(half, len(bodyStr))]
	tail := bodyStr[max(0, len(bodyStr)-half):]
	return facts.String() + head + "\n...\n" + tail
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
