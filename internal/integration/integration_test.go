//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	repoRoot         string
	integrationBin   string
	integrationCache string
)

func TestMain(m *testing.M) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		fmt.Fprintln(os.Stderr, "integration: resolve current file")
		os.Exit(1)
	}
	repoRoot = filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))

	tmpDir, err := os.MkdirTemp(repoRoot, ".integration-bin-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration: create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	integrationCache = filepath.Join(tmpDir, "gocache")
	if err := os.MkdirAll(integrationCache, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "integration: create gocache: %v\n", err)
		os.Exit(1)
	}

	integrationBin = filepath.Join(tmpDir, "coffer")
	buildCmd := exec.Command("go", "build", "-o", integrationBin, "./cmd/coffer")
	buildCmd.Dir = repoRoot
	buildCmd.Env = append(os.Environ(), "GOCACHE="+integrationCache)
	if output, err := buildCmd.CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "integration: build cli: %v\n%s\n", err, string(output))
		os.Exit(1)
	}

	os.Exit(m.Run())
}

const harnessCatalog = `version: 1
collections:
  - name: tasks
    id_prefix: task
    indexes:
      - name: by_status
        path: status
  - name: labels
    id_prefix: lbl
`

type cliHarness struct {
	storePath   string
	catalogPath string
	configPath  string
	backupDir   string
	seedDir     string
}

type cliResult struct {
	output   string
	exitCode int
	err      error
}

func newHarness(t *testing.T) *cliHarness {
	t.Helper()

	base, err := os.MkdirTemp(repoRoot, ".integration-run-")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = os.RemoveAll(base)
	})

	h := &cliHarness{
		storePath:   filepath.Join(base, "coffer.db"),
		catalogPath: filepath.Join(base, "catalog.yaml"),
		configPath:  filepath.Join(base, "config.toml"),
		backupDir:   filepath.Join(base, "backups"),
		seedDir:     filepath.Join(base, "seeds"),
	}
	require.NoError(t, os.WriteFile(h.catalogPath, []byte(harnessCatalog), 0o600))
	config := fmt.Sprintf("[backup]\ndestination = \"local\"\ndir = %q\n", h.backupDir)
	require.NoError(t, os.WriteFile(h.configPath, []byte(config), 0o600))
	return h
}

func (h *cliHarness) args(extra ...string) []string {
	base := []string{
		"--store", h.storePath,
		"--catalog", h.catalogPath,
		"--config", h.configPath,
	}
	return append(base, extra...)
}

func (h *cliHarness) run(timeout time.Duration, args ...string) cliResult {
	return h.runWithInput(timeout, "", args...)
}

func (h *cliHarness) runWithInput(timeout time.Duration, stdin string, args ...string) cliResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, integrationBin, h.args(args...)...)
	cmd.Dir = repoRoot
	cmd.Env = append(os.Environ(), "GOCACHE="+integrationCache)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	output, err := cmd.CombinedOutput()

	res := cliResult{
		output: strings.TrimSpace(string(output)),
		err:    err,
	}
	if err == nil {
		res.exitCode = 0
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.exitCode = exitErr.ExitCode()
		return res
	}
	res.exitCode = -1
	if ctx.Err() != nil {
		res.output = strings.TrimSpace(string(output) + "\n" + ctx.Err().Error())
	}
	return res
}

func requireSuccess(t *testing.T, res cliResult, command ...string) string {
	t.Helper()
	require.NoError(t, res.err, "command failed: %s\noutput:\n%s", strings.Join(command, " "), res.output)
	require.Equal(t, 0, res.exitCode)
	return res.output
}

func requireFailure(t *testing.T, res cliResult, command ...string) string {
	t.Helper()
	require.Error(t, res.err, "command unexpectedly succeeded: %s\noutput:\n%s", strings.Join(command, " "), res.output)
	require.NotEqual(t, 0, res.exitCode)
	return res.output
}

func TestIntegrationLifecycleInitPutShowStatus(t *testing.T) {
	h := newHarness(t)

	requireSuccess(t, h.run(10*time.Second, "init"), "init")

	doc := `{"id":"task_1","title":"ship the release","status":"open"}`
	putOut := requireSuccess(t, h.runWithInput(10*time.Second, doc, "records", "put", "tasks"), "records put tasks")
	require.Contains(t, putOut, "stored record: task_1")

	showOut := requireSuccess(t, h.run(10*time.Second, "records", "show", "tasks", "task_1"), "records show tasks task_1")
	require.Contains(t, showOut, `"title": "ship the release"`)

	statusOut := requireSuccess(t, h.run(10*time.Second, "--json", "status"), "--json status")
	var status struct {
		SchemaVersion int              `json:"schema_version"`
		Collections   map[string]int64 `json:"collections"`
	}
	require.NoError(t, json.Unmarshal([]byte(statusOut), &status))
	require.Equal(t, 1, status.SchemaVersion)
	require.Equal(t, int64(1), status.Collections["tasks"])
}

func TestIntegrationSeedRunsOnceThenSkips(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, os.MkdirAll(h.seedDir, 0o700))
	seedYAML := "collection: tasks\nrecords:\n  - title: first\n    status: open\n  - title: second\n    status: done\n"
	require.NoError(t, os.WriteFile(filepath.Join(h.seedDir, "01_tasks.yaml"), []byte(seedYAML), 0o600))

	requireSuccess(t, h.run(10*time.Second, "init"), "init")

	firstOut := requireSuccess(t, h.run(10*time.Second, "seed", "--dir", h.seedDir), "seed --dir <dir>")
	require.Contains(t, firstOut, "seeded tasks: 2 created")

	secondOut := requireSuccess(t, h.run(10*time.Second, "seed", "--dir", h.seedDir), "seed --dir <dir>")
	require.Contains(t, secondOut, "skipped tasks (already populated)")

	statusOut := requireSuccess(t, h.run(10*time.Second, "--json", "status"), "--json status")
	var status struct {
		Collections map[string]int64 `json:"collections"`
	}
	require.NoError(t, json.Unmarshal([]byte(statusOut), &status))
	require.Equal(t, int64(2), status.Collections["tasks"])
}

func TestIntegrationEncryptedBackupRestore(t *testing.T) {
	h := newHarness(t)

	requireSuccess(t, h.run(10*time.Second, "init"), "init")
	doc := `{"id":"task_keep","title":"survives restore","status":"open"}`
	requireSuccess(t, h.runWithInput(10*time.Second, doc, "records", "put", "tasks"), "records put tasks")

	createOut := requireSuccess(
		t,
		h.run(30*time.Second, "--json", "backup", "create", "--passphrase", "integration-pass"),
		"--json backup create --passphrase integration-pass",
	)
	var manifest struct {
		ID        string `json:"id"`
		Encrypted bool   `json:"encrypted"`
	}
	require.NoError(t, json.Unmarshal([]byte(createOut), &manifest))
	require.NotEmpty(t, manifest.ID)
	require.True(t, manifest.Encrypted)

	restorePath := h.storePath + ".restored"

	missingPass := h.run(30*time.Second, "backup", "restore", manifest.ID, "--to", restorePath)
	requireFailure(t, missingPass, "backup restore <id> --to <path>")
	require.Equal(t, 2, missingPass.exitCode)

	wrongPass := h.run(30*time.Second, "backup", "restore", manifest.ID, "--to", restorePath, "--passphrase", "wrong")
	requireFailure(t, wrongPass, "backup restore <id> --passphrase wrong")
	require.Equal(t, 6, wrongPass.exitCode)

	requireSuccess(
		t,
		h.run(30*time.Second, "backup", "restore", manifest.ID, "--to", restorePath, "--passphrase", "integration-pass"),
		"backup restore <id> --passphrase integration-pass",
	)

	restored := &cliHarness{
		storePath:   restorePath,
		catalogPath: h.catalogPath,
		configPath:  h.configPath,
	}
	showOut := requireSuccess(t, restored.run(10*time.Second, "records", "show", "tasks", "task_keep"), "records show tasks task_keep")
	require.Contains(t, showOut, "survives restore")
}

func TestIntegrationJournalTracksLifecycle(t *testing.T) {
	h := newHarness(t)

	requireSuccess(t, h.run(10*time.Second, "init"), "init")
	doc := `{"id":"task_1","title":"x","status":"open"}`
	requireSuccess(t, h.runWithInput(10*time.Second, doc, "records", "put", "tasks"), "records put tasks")
	requireSuccess(t, h.run(10*time.Second, "records", "rm", "tasks", "task_1"), "records rm tasks task_1")

	lsOut := requireSuccess(t, h.run(10*time.Second, "journal", "ls"), "journal ls")
	lines := strings.Split(lsOut, "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "action=store.init")
	require.Contains(t, lines[1], "action=record.put")
	require.Contains(t, lines[2], "action=record.delete")

	verifyOut := requireSuccess(t, h.run(10*time.Second, "journal", "verify"), "journal verify")
	require.Contains(t, verifyOut, "valid=true entries=3")
}

func TestIntegrationExitCodesDistinguishFailures(t *testing.T) {
	h := newHarness(t)

	requireSuccess(t, h.run(10*time.Second, "init"), "init")

	missing := h.run(10*time.Second, "records", "show", "tasks", "task_missing")
	requireFailure(t, missing, "records show tasks task_missing")
	require.Equal(t, 3, missing.exitCode)

	unknown := h.run(10*time.Second, "records", "ls", "no_such_collection")
	requireFailure(t, unknown, "records ls no_such_collection")
	require.Equal(t, 2, unknown.exitCode)
}

func TestIntegrationConcurrentRecordLists(t *testing.T) {
	h := newHarness(t)

	requireSuccess(t, h.run(10*time.Second, "init"), "init")
	doc := `{"id":"task_parallel","title":"x","status":"open"}`
	requireSuccess(t, h.runWithInput(10*time.Second, doc, "records", "put", "tasks"), "records put tasks")

	var wg sync.WaitGroup
	errCh := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.run(10*time.Second, "records", "ls", "tasks")
			if res.err != nil {
				errCh <- fmt.Errorf("exit=%d output=%s", res.exitCode, res.output)
				return
			}
			if !strings.Contains(res.output, "task_parallel") {
				errCh <- fmt.Errorf("missing record in output: %s", res.output)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}
