package logger

import (
	"strings"

	"github.com/fatih/color"
)

// colorScheme defines consistent colors for status words and levels.
// Green: success, Red: failure, Yellow: warning/cancelled, Cyan: labels
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	muted   *color.Color
}

func newColorScheme() *colorScheme {
	scheme := &colorScheme{
		success: color.New(color.FgGreen, color.Bold),
		fail:    color.New(color.FgRed, color.Bold),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		muted:   color.New(color.FgHiBlack),
	}
	// The logger decides when to color; ignore the package-level TTY guess.
	for _, c := range []*color.Color{scheme.success, scheme.fail, scheme.warn, scheme.label, scheme.muted} {
		c.EnableColor()
	}
	return scheme
}

// status colors an attempt verdict.
func (s *colorScheme) status(word string) string {
	switch word {
	case "PASS":
		return s.success.Sprint(word)
	case "FAIL":
		return s.fail.Sprint(word)
	default:
		return s.warn.Sprint(word)
	}
}

// level colors a log level tag.
func (s *colorScheme) level(level string) string {
	switch strings.ToUpper(level) {
	case "TRACE":
		return s.muted.Sprint(level)
	case "DEBUG":
		return s.label.Sprint(level)
	case "WARN":
		return s.warn.Sprint(level)
	case "ERROR":
		return s.fail.Sprint(level)
	default:
		return level
	}
}
