package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesToExtraFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, Setup("test", "info", path))

	log.Info().Msg("hello from the test")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the test")
}

func TestSetup_NoExtraFileSucceeds(t *testing.T) {
	require.NoError(t, Setup("test", "debug", ""))
}

func TestSetup_InvalidFilePathErrors(t *testing.T) {
	err := Setup("test", "info", filepath.Join(t.TempDir(), "missing-dir", "out.log"))
	assert.Error(t, err)
}
