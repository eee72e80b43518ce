package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	require.Equal(t, LevelWarn, lvl)

	_, err = ParseLevel("bogus")
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, f)

	_, err = ParseFormat("text")
	require.NoError(t, err)

	_, err = ParseFormat("bogus")
	require.Error(t, err)
}

func TestNewWritesJSONWithComponentField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	l, err := New(&Config{Level: LevelInfo, Format: FormatJSON, OutputFile: path})
	require.NoError(t, err)
	defer l.Close()

	l.Component("writer").Info().Msg("recording rotated")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	require.Equal(t, "writer", entry["component"])
	require.Equal(t, "recording rotated", entry["message"])
}

func TestStreamTagsStreamID(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: zerolog.New(&buf)}
	l.Stream(7).Info().Msg("gop boundary")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.EqualValues(t, 7, entry["stream_id"])
}

func TestDefaultReturnsSameInstance(t *testing.T) {
	require.Same(t, Default(), Default())
}
