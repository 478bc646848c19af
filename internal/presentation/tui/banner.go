package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{" _     _                       _       _   ", "#38bdf8"},
	{"| |__ | |_   _  ___ _ __  _ __(_)_ __ | |_ ", "#22d3ee"},
	{"| '_ \\| | | | |/ _ \\ '_ \\| '__| | '_ \\| __|", "#2dd4bf"},
	{"| |_) | | |_| |  __/ |_) | |  | | | | | |_ ", "#34d399"},
	{"|_.__/|_|\\__,_|\\___| .__/|_|  |_|_| |_|\\__|", "#4ade80"},
	{"                   |_|                      ", "#a3e635"},
}

// PrintBanner writes the colored banner and the version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	for _, line := range bannerLines {
		fmt.Fprintln(w, out.String(line.text).Foreground(out.Color(line.color)))
	}
	fmt.Fprintln(w, out.String("  project-based learning planner "+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
