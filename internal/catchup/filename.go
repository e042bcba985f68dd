package catchup

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	maxFilenameRunes = 200
	Extension        = ".ts"
)

var (
	reservedChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	controlChars  = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

func SanitizeFilename(name string) string {
	name = reservedChars.ReplaceAllString(name, "_")
	name = controlChars.ReplaceAllString(name, "")
	if r := []rune(name); len(r) > maxFilenameRunes {
		name = string(r[:maxFilenameRunes])
	}
	return strings.TrimSpace(name)
}

// DefaultFilename renders Stream_Weekday_YYYY-MM-DD_HHMM.ts from the guide
// start time.
func DefaultFilename(streamName string, start time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s%s",
		SanitizeFilename(streamName),
		start.Weekday(),
		start.Format(time.DateOnly),
		start.Format("1504"),
		Extension,
	)
}

// CustomFilename appends the transport stream extension when missing.
func CustomFilename(name string) string {
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(name, Extension) {
		name += Extension
	}
	return SanitizeFilename(name)
}
