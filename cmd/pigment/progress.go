package main

import (
	"fmt"
	"io"
	"strings"
)

// renderProgress returns a step callback that redraws a single-line bar
// sized to the terminal. The final step ends the line.
func renderProgress(w io.Writer) func(done, total int) {
	return func(done, total int) {
		if total <= 0 {
			return
		}
		width := termWidth() - 20
		if width < 10 {
			width = 10
		}
		filled := width * done / total
		bar := strings.Repeat("=", filled)
		if filled < width {
			bar += ">" + strings.Repeat(" ", width-filled-1)
		}
		fmt.Fprintf(w, "\r[%s] %d/%d", bar, done, total)
		if done >= total {
			fmt.Fprintln(w)
		}
	}
}
