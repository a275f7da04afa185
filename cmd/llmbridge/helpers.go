package main

import (
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func colorizeState(state string, enable bool) string {
	if !enable {
		return state
	}
	switch state {
	case "connected":
		return text.FgGreen.Sprint(state)
	case "connecting":
		return text.FgYellow.Sprint(state)
	case "error":
		return text.FgRed.Sprint(state)
	default:
		return state
	}
}

// formatLastCheck renders an epoch-seconds timestamp; zero means the
// connection was never probed.
func formatLastCheck(epochSeconds float64) string {
	if epochSeconds == 0 {
		return "never"
	}
	ts := time.Unix(0, int64(epochSeconds*float64(time.Second)))
	return ts.Local().Format("15:04:05")
}
