package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(NewConsoleWriter(buf, false))

	logger.Info().Str("task", "gen").Bool("command", true).Str("path", "/tmp").Msg("bin/gn gen out/Release")
	logger.Warn().Msg("careful")
	logger.Error().Str("task", "build").Err(eris.New("ninja failed")).Msg("stopped")

	assert.Equal(t, "gen: $ bin/gn gen out/Release\ncareful\nbuild: Error: stopped\nninja failed\n", buf.String())
}

func TestConsoleWriterColors(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(NewConsoleWriter(buf, true))

	logger.Error().Msg("broken")
	assert.Contains(t, buf.String(), "\033[31m")
	assert.Contains(t, buf.String(), "broken")
}

func TestConsoleWriterRejectsGarbage(t *testing.T) {
	_, err := NewConsoleWriter(&bytes.Buffer{}, false).Write([]byte("not json"))
	require.Error(t, err)
}

func TestConsoleWriterSimplifiesPaths(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	base := filepath.Join(wd, "third_party", "skia")

	buf := &bytes.Buffer{}
	logger := zerolog.New(NewConsoleWriter(buf, false))
	logger.Info().Str("task", "package").Bool("command", true).Str("path", base).
		Msg("cp -r " + filepath.Join(base, "include") + " dist")
	logger.Info().Str("task", "clean").Bool("command", true).Str("path", "/").Msg("rm -r /out")

	expected := "package: $ cp -r " + filepath.Join("third_party", "skia", "include") + " dist\n" +
		"clean: $ rm -r /out\n"
	assert.Equal(t, expected, buf.String())
}
