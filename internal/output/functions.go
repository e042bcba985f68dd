package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/tanq16/catchup/internal/transfer"
	"github.com/tanq16/catchup/internal/utils"
	"golang.org/x/term"
)

func ProgressBar(percent uint8, width int) string {
	if width <= 0 {
		width = 30
	}
	p := min(int(percent), 100)
	filled := max(0, min(p*width/100, width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return fmt.Sprintf("%s %3d%%", bar, p)
}

// ProgressLine renders a sample as the bar followed by the three speed
// figures and the active chunk. Unknown sizes show bytes instead of a bar.
func ProgressLine(s transfer.ProgressSample) string {
	var head string
	if s.TotalBytes >= 0 {
		head = fmt.Sprintf("%s %s %s/%s", ProgressBar(s.Percent, 30), StyleSymbols["bullet"],
			utils.FormatBytes(s.BytesWritten), utils.FormatBytes(uint64(s.TotalBytes)))
	} else {
		head = fmt.Sprintf("%s %s", StyleSymbols["arrow"], utils.FormatBytes(s.BytesWritten))
	}
	return fmt.Sprintf("%s %s now %s %s chunk %s %s avg %s %s part %d/%d",
		head,
		StyleSymbols["bullet"], utils.FormatRate(s.CurrentBps),
		StyleSymbols["dot"], utils.FormatRate(s.ChunkAverageBps),
		StyleSymbols["dot"], utils.FormatRate(s.OverallAverageBps),
		StyleSymbols["bullet"], min(s.Chunk+1, max(s.Chunks, 1)), max(s.Chunks, 1),
	)
}

// Summary is the one-line report printed after a transfer ends.
func Summary(o transfer.Outcome) string {
	elapsed := ""
	if !o.State.StartTime.IsZero() {
		elapsed = fmt.Sprintf(" in %s", timeSince(o.State.StartTime))
	}
	if o.Completed() {
		return fmt.Sprintf("%s%s, %d reconnects", utils.FormatBytes(o.FinalSize), elapsed, o.State.ChunksRestarted)
	}
	return fmt.Sprintf("%s after %s: %s", o.Status, utils.FormatBytes(o.FinalSize), o.Reason)
}

func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80 // Default fallback width
	}
	return width
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24 // Default fallback height
	}
	return height
}

// IsTerminal reports whether stdout can take cursor movement.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func truncate(text string, indent int) string {
	maxWidth := getTerminalWidth() - indent - 2
	if maxWidth <= 10 {
		return text
	}
	r := []rune(text)
	if len(r) <= maxWidth {
		return text
	}
	return string(r[:maxWidth-1]) + "…"
}
