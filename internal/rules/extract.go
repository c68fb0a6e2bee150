// internal/rules/extract.go
package rules

import (
	"regexp"
	"strings"
)

/*
 * Rule extraction from free-text stories.
 *
 * A story defines a rule when its title is shaped `when(<condition>)`, case
 * insensitive, with an optional single space before the parenthesis and no
 * nested parentheses. The action is every fenced code block of the
 * description, in order, each with its first line (the language tag) removed,
 * joined by a newline.
 *
 * A fence without a newline (```inline```) has no language line and is kept
 * whole.
 */

const fence = "```"

var titlePattern = regexp.MustCompile(`(?i)^when ?\(([^)]*)\)$`)

// Extract splits a story's title and description into condition and action
// source. ok is false when the title is not a rule title.
func Extract(title, body string) (condition, action string, ok bool) {
	m := titlePattern.FindStringSubmatch(title)
	if m == nil {
		return "", "", false
	}

	segments := strings.Split(body, fence)
	blocks := make([]string, 0, len(segments)/2)
	for i := 1; i < len(segments); i += 2 {
		blocks = append(blocks, stripFirstLine(segments[i]))
	}

	return m[1], strings.Join(blocks, "\n"), true
}

// IsRuleTitle reports whether a title defines a rule.
func IsRuleTitle(title string) bool {
	return titlePattern.MatchString(title)
}

func stripFirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
