package browser

import "strings"

// SelectorKind tells how a selector string is resolved.
type SelectorKind int

const (
	SelectorCSS SelectorKind = iota
	SelectorXPath
)

// ParseSelector resolves the selector syntax used in configuration:
// "xpath=<expr>" is an XPath, "text=<label>" matches an element whose own
// text equals label, anything else is CSS.
func ParseSelector(sel string) (SelectorKind, string) {
	switch {
	case strings.HasPrefix(sel, "xpath="):
		return SelectorXPath, strings.TrimPrefix(sel, "xpath=")
	case strings.HasPrefix(sel, "//"):
		return SelectorXPath, sel
	case strings.HasPrefix(sel, "text="):
		label := strings.TrimPrefix(sel, "text=")
		return SelectorXPath, "//*[normalize-space(text())=" + xpathLiteral(label) + "]"
	default:
		return SelectorCSS, sel
	}
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(quoted, `, "'", `) + ")"
}
