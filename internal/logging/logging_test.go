package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "logs", "upload.log")

	log, err := New(Options{Level: "debug", File: path})
	req.NoError(err)
	log.Debug("chunk sent")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	req.NoError(err)
	req.Contains(string(data), `"msg":"chunk sent"`)

	_, err = New(Options{Level: "loud"})
	req.Error(err)
}
