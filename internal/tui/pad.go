package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// padRight pads value with spaces to the given display width, accounting
// for wide runes.
func padRight(value string, width int) string {
	w := runewidth.StringWidth(value)
	if w >= width {
		return value
	}
	return value + strings.Repeat(" ", width-w)
}
