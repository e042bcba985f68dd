package catchup

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCopyToClipboardWithoutTools(t *testing.T) {
	orig := lookPath
	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	defer func() { lookPath = orig }()

	err := CopyToClipboard(context.Background(), "http://tv.example/a.ts")
	assert.ErrorIs(t, err, ErrNoClipboard)
}
