package cmd

import (
	"strings"

	"github.com/mgutz/ansi"

	"github.com/lunixbochs/domaincorn/go/models"
)

var (
	crashColor  = ansi.ColorCode("red+b")
	activeColor = ansi.ColorCode("green")
	reloadColor = ansi.ColorCode("yellow")
	dimColor    = ansi.ColorCode("default+d")
)

func colorPad(s, color string, pad int) string {
	length := len(s)
	s = color + s + ansi.Reset
	if length < pad {
		s = s + strings.Repeat(" ", pad-length)
	}
	return s
}

// Paint wraps s in color when enabled.
func Paint(s, color string, enabled bool) string {
	if !enabled {
		return s
	}
	return color + s + ansi.Reset
}

// StateColumn renders a lifecycle state padded to width.
func StateColumn(st models.State, width int, enabled bool) string {
	s := st.String()
	if !enabled {
		if len(s) < width {
			s += strings.Repeat(" ", width-len(s))
		}
		return s
	}
	color := dimColor
	switch st {
	case models.Active:
		color = activeColor
	case models.Crashed:
		color = crashColor
	case models.Loading, models.Reloading:
		color = reloadColor
	}
	return colorPad(s, color, width)
}
