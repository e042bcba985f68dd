package catchup

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrNoClipboard = errors.New("no clipboard tool found, install xclip or xsel")

var lookPath = exec.LookPath

type clipboardTool struct {
	name string
	args []string
}

func clipboardTools() []clipboardTool {
	if runtime.GOOS == "darwin" {
		return []clipboardTool{{name: "pbcopy"}}
	}
	return []clipboardTool{
		{name: "xclip", args: []string{"-selection", "clipboard"}},
		{name: "xsel", args: []string{"--clipboard", "--input"}},
	}
}

// CopyToClipboard pipes text into the first clipboard tool that works.
func CopyToClipboard(ctx context.Context, text string) error {
	var lastErr error = ErrNoClipboard
	for _, tool := range clipboardTools() {
		path, err := lookPath(tool.name)
		if err != nil {
			continue
		}
		cmd := exec.CommandContext(ctx, path, tool.args...)
		cmd.Stdin = strings.NewReader(text)
		if err := cmd.Run(); err != nil {
			log.Debug().Str("op", "catchup/clipboard").Err(err).Msgf("%s failed", tool.name)
			lastErr = fmt.Errorf("%s failed: %w", tool.name, err)
			continue
		}
		log.Debug().Str("op", "catchup/clipboard").Msgf("copied via %s", tool.name)
		return nil
	}
	return lastErr
}
