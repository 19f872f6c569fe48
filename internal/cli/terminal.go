package cli

import (
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/amirbrooks/tasker/internal/config"
)

type fdWriter interface {
	Fd() uintptr
}

func isTerminal(v any) bool {
	f, ok := v.(fdWriter)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// colorProfile resolves ui.color against the output stream. NO_COLOR and
// FORCE_COLOR have already been folded into mode by config.
func colorProfile(mode string, out any) termenv.Profile {
	switch mode {
	case config.ColorNever:
		return termenv.Ascii
	case config.ColorAlways:
		return termenv.ANSI
	default:
		if !isTerminal(out) {
			return termenv.Ascii
		}
		return termenv.ColorProfile()
	}
}
