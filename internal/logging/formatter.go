package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Entry represents a single structured log record
type Entry struct {
	Timestamp time.Time
	Level     Level
	Component string
	Message   string
	Fields    map[string]interface{}
}

// formatEntry renders an entry as a single line:
// [YYYY-MM-DD HH:MM:SS] LEVEL [component] message key=value ...
// Field keys are sorted so output is deterministic.
func formatEntry(e Entry) string {
	var sb strings.Builder

	sb.WriteString("[")
	sb.WriteString(e.Timestamp.Format("2006-01-02 15:04:05"))
	sb.WriteString("] ")
	sb.WriteString(e.Level.String())
	sb.WriteString(" [")
	sb.WriteString(e.Component)
	sb.WriteString("] ")
	sb.WriteString(sanitize(e.Message))

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(" ")
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", e.Fields[k]))
		}
	}

	sb.WriteString("\n")
	return sb.String()
}

// sanitize replaces control characters (except newline and tab) with spaces
// to prevent log injection from user-supplied content.
func sanitize(msg string) string {
	var sb strings.Builder
	for _, r := range msg {
		if r == '\n' || r == '\t' {
			sb.WriteRune(r)
		} else if r < 0x20 {
			sb.WriteRune(' ')
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
