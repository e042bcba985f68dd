package repair

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrFFmpegNotFound = errors.New("ffmpeg not found in PATH")

var lookPath = exec.LookPath

// Repairer remuxes a downloaded transport stream through ffmpeg, which
// regenerates timestamps and drops damaged packets left by reconnects.
type Repairer struct {
	ffmpeg string
}

func New() (*Repairer, error) {
	path, err := lookPath("ffmpeg")
	if err != nil {
		return nil, ErrFFmpegNotFound
	}
	return &Repairer{ffmpeg: path}, nil
}

func NewWithPath(path string) *Repairer {
	return &Repairer{ffmpeg: path}
}

// RepairedPath is the temporary output written next to input.
func RepairedPath(input string) string {
	return strings.TrimSuffix(input, ".ts") + "_repaired.ts"
}

func (r *Repairer) args(input, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-err_detect", "ignore_err",
		"-fflags", "+genpts",
		"-i", input,
		"-map", "0",
		"-c", "copy",
		"-y",
		output,
	}
}

// Repair rewrites input in place. On failure the original is left untouched
// and the temporary output is removed.
func (r *Repairer) Repair(ctx context.Context, input string) error {
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	temp := RepairedPath(input)
	cmd := exec.CommandContext(ctx, r.ffmpeg, r.args(input, temp)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.Debug().Str("op", "repair/ffmpeg").Msgf("Executing ffmpeg command: %s", cmd.String())
	if err := cmd.Run(); err != nil {
		os.Remove(temp)
		msg := strings.TrimSpace(stderr.String())
		if i := strings.LastIndex(msg, "\n"); i >= 0 {
			msg = msg[i+1:]
		}
		log.Warn().Str("op", "repair/ffmpeg").Err(err).Msgf("Repair failed, keeping original %s", input)
		if msg != "" {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	if err := os.Rename(temp, input); err != nil {
		os.Remove(temp)
		return fmt.Errorf("error replacing original with repaired file: %w", err)
	}
	log.Info().Str("op", "repair/ffmpeg").Msgf("Repaired %s", input)
	return nil
}

// Clean removes repair outputs left behind in dir by interrupted runs.
func Clean(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*_repaired.ts"))
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return removed, fmt.Errorf("error removing %s: %w", m, err)
		}
		log.Debug().Str("op", "repair/clean").Msgf("Removed %s", m)
		removed = append(removed, m)
	}
	return removed, nil
}
