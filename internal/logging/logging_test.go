package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cofferdb/coffer/internal/config"
	"github.com/stretchr/testify/require"
)

func TestTruncationSummarizesLargeDocumentAttr(t *testing.T) {
	t.Parallel()
	doc := `{"id":"task_1","title":"` + strings.Repeat("x", 1000) + `"}`
	out := logSingleField(t, "doc", doc)
	require.Equal(t, "(1026 bytes)", out["doc"])
}

func TestTruncationCutsOversizedStringAttr(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("y", 500)
	out := logSingleField(t, "query", long)
	got, ok := out["query"].(string)
	require.True(t, ok)
	require.True(t, strings.HasSuffix(got, "..."))
	require.Len(t, got, maxAttrLen+3)
}

func TestTruncationKeepsRuneBoundaries(t *testing.T) {
	t.Parallel()
	// Three-byte runes do not line up with the byte limit, so a naive cut
	// would split one and leave a replacement char after the JSON round trip.
	long := strings.Repeat("€", 300)
	out := logSingleField(t, "query", long)
	got, ok := out["query"].(string)
	require.True(t, ok)
	require.True(t, strings.HasSuffix(got, "..."))
	require.True(t, utf8.ValidString(got))
	require.NotContains(t, got, "�")
}

func TestSmallAttrsPassThrough(t *testing.T) {
	t.Parallel()
	out := logSingleField(t, "collection", "tasks")
	require.Equal(t, "tasks", out["collection"])

	out = logSingleField(t, "doc", `{"id":"task_1"}`)
	require.Equal(t, `{"id":"task_1"}`, out["doc"])
}

func TestNonStringAttrsPassThrough(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewTruncatingHandler(base))
	logger.Info("test", "created", 42)

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	require.EqualValues(t, 42, out["created"])
}

func TestGroupAttrsTruncateRecursively(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewTruncatingHandler(base))
	logger.Info("test", slog.Group("seed", slog.String("doc", strings.Repeat("z", 400))))

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	group, ok := out["seed"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "(400 bytes)", group["doc"])
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	require.Equal(t, slog.LevelInfo, ParseLevel("info"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("unknown"))
}

func TestNewWritesToRotatingFile(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "logs", "coffer.log")
	console, err := os.Create(filepath.Join(t.TempDir(), "console"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = console.Close() })

	logger, closer, err := New(config.LoggingConfig{
		Level:     "info",
		File:      logPath,
		MaxSizeMB: 10,
		MaxFiles:  5,
	}, console)
	require.NoError(t, err)

	logger.Info("store opened", "collection", "tasks")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "store opened")
	require.Contains(t, string(data), `"collection":"tasks"`)
}

func TestLogRotationCreatesNewFileAfterLimit(t *testing.T) {
	logDir := t.TempDir()
	logPath := filepath.Join(logDir, "coffer.log")

	writer, err := newRotatingWriter(config.LoggingConfig{
		File:      logPath,
		MaxSizeMB: 1,
		MaxFiles:  3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	chunk := bytes.Repeat([]byte("a"), 256*1024)
	for i := 0; i < 6; i++ {
		_, err = writer.Write(chunk)
		require.NoError(t, err)
	}

	files, err := filepath.Glob(filepath.Join(logDir, "coffer*"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 2)
}

func logSingleField(t *testing.T, key, value string) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewTruncatingHandler(base))
	logger.Info("test", key, value)

	line := bytes.TrimSpace(buf.Bytes())
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(line, &out))
	return out
}
