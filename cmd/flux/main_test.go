package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"flux/internal/catalog"
	"flux/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	dataDir    string
	configPath string
}

func setupCLITestEnv(t *testing.T, trimMode string) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("FLUX_TRIM_MODE", "")

	env := &cliTestEnv{
		baseDir:    base,
		dataDir:    filepath.Join(base, "data"),
		configPath: filepath.Join(base, "flux.toml"),
	}
	content := fmt.Sprintf(`[paths]
data_dir = %q

[capture]
ffmpeg_binary = "ffmpeg"

[trim]
mode = %q
cache_dir = %q

[pipeline]
progress_interval_ms = 0

[logging]
level = "error"
`, env.dataDir, trimMode, filepath.Join(base, "cache"))
	writeText(t, env.configPath, content)
	return env
}

func writeText(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	return runCLIWithInput(t, env, strings.NewReader(""), args...)
}

func runCLIWithInput(t *testing.T, env *cliTestEnv, in io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(in)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

var routePattern = regexp.MustCompile(`#/watch/([0-9a-f]{32})`)

func importClip(t *testing.T, env *cliTestEnv, args ...string) string {
	t.Helper()
	clip := filepath.Join(env.baseDir, "clip.webm")
	if err := os.WriteFile(clip, testsupport.Bytes(1000), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, env, append([]string{"import", clip, "--duration", "10"}, args...)...)
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	requireContains(t, out, "Saved Flux Session")
	requireContains(t, out, "Views: 1")
	match := routePattern.FindStringSubmatch(out)
	if match == nil {
		t.Fatalf("no watch route in output:\n%s", out)
	}
	return match[1]
}

func listJSON(t *testing.T, env *cliTestEnv) []catalog.Recording {
	t.Helper()
	out, err := runCLI(t, env, "list", "--json")
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	var records []catalog.Recording
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode list output: %v\n%s", err, out)
	}
	return records
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t, "heuristic")

	out, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Trim mode: heuristic")

	out, err = runCLI(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[trim]")
	requireContains(t, out, "mode = 'heuristic'")
	requireContains(t, out, filepath.Join(env.dataDir, "vault"))

	target := filepath.Join(t.TempDir(), "config.toml")
	out, err = runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestImportTrimsAndLists(t *testing.T) {
	env := setupCLITestEnv(t, "heuristic")
	id := importClip(t, env, "--start", "2", "--end", "5")

	records := listJSON(t, env)
	if len(records) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(records))
	}
	rec := records[0]
	if rec.ID != id || rec.Size != 300 || rec.Duration != 3 || rec.Views != 1 {
		t.Fatalf("unexpected recording: %+v", rec)
	}

	out, err := runCLI(t, env, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, id)
	requireContains(t, out, "300 B")
	requireContains(t, out, "1 recordings")

	out, err = runCLI(t, env, "show", "#/watch/"+id)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Type:       video/webm")
	requireContains(t, out, "Length:     0:03")
}

func TestImportUntrimmedWithModeNone(t *testing.T) {
	env := setupCLITestEnv(t, "heuristic")
	importClip(t, env, "--start", "2", "--end", "5", "--mode", "none")

	if records := listJSON(t, env); len(records) != 1 || records[0].Size != 1000 {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestImportRejectsUnknownMode(t *testing.T) {
	env := setupCLITestEnv(t, "heuristic")
	clip := filepath.Join(env.baseDir, "clip.webm")
	writeText(t, clip, "data")
	if _, err := runCLI(t, env, "import", clip, "--mode", "fast"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestWatchTracksViewsAndCompletion(t *testing.T) {
	env := setupCLITestEnv(t, "none")
	id := importClip(t, env)

	out, err := runCLI(t, env, "watch", id, "--progress", "40")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	requireContains(t, out, "Completion: 40%")
	requireContains(t, out, "Views:      2")

	out, err = runCLI(t, env, "watch", "#/watch/"+id, "--progress", "25")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	requireContains(t, out, "Completion: 40%")

	rec := listJSON(t, env)[0]
	if rec.Views != 3 || rec.CompletionRate != 40 {
		t.Fatalf("unexpected analytics: %+v", rec)
	}

	entries, err := os.ReadDir(filepath.Join(env.dataDir, "scratch", "handles"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), id) {
			t.Fatalf("playable file %s left behind", entry.Name())
		}
	}
}

func TestConcurrentWatchSessions(t *testing.T) {
	env := setupCLITestEnv(t, "none")
	first := importClip(t, env)
	second := importClip(t, env)
	handleDir := filepath.Join(env.dataDir, "scratch", "handles")

	stdin, stop := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := runCLIWithInput(t, env, stdin, "watch", first)
		done <- err
	}()

	deadline := time.Now().Add(10 * time.Second)
	for !hasHandle(t, handleDir, first) {
		select {
		case err := <-done:
			t.Fatalf("first watch exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("first watch never opened its playable file")
		}
		time.Sleep(20 * time.Millisecond)
	}

	out, err := runCLI(t, env, "watch", second, "--no-wait")
	if err != nil {
		t.Fatalf("second watch while first is open: %v", err)
	}
	requireContains(t, out, "#/watch/"+second)
	if !hasHandle(t, handleDir, first) {
		t.Fatal("second watch removed the first session's playable file")
	}

	if _, err := io.WriteString(stop, "\n"); err != nil {
		t.Fatalf("end first watch: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first watch: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("first watch did not exit")
	}
	_ = stop.Close()

	if hasHandle(t, handleDir, first) || hasHandle(t, handleDir, second) {
		t.Fatal("playable files left behind")
	}
}

func hasHandle(t *testing.T, dir, id string) bool {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), id) {
			return true
		}
	}
	return false
}

func TestWatchUnknownRecording(t *testing.T) {
	env := setupCLITestEnv(t, "none")
	_, err := runCLI(t, env, "watch", "#/watch/deadbeef", "--no-wait")
	if !errors.Is(err, errNotFound) {
		t.Fatalf("expected errNotFound, got %v", err)
	}
	if _, err := runCLI(t, env, "show", "deadbeef"); !errors.Is(err, errNotFound) {
		t.Fatalf("show: expected errNotFound, got %v", err)
	}
}

func TestExportWritesCatalog(t *testing.T) {
	env := setupCLITestEnv(t, "none")
	id := importClip(t, env)

	target := filepath.Join(env.baseDir, "out", "catalog.json")
	out, err := runCLI(t, env, "export", target)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	requireContains(t, out, "Exported 1 recordings")
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	requireContains(t, string(data), id)
}

func TestImportRefusesWhenLocked(t *testing.T) {
	env := setupCLITestEnv(t, "none")
	if err := os.MkdirAll(env.dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	lock := flock.New(filepath.Join(env.dataDir, "flux.lock"))
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer lock.Unlock()

	clip := filepath.Join(env.baseDir, "clip.webm")
	writeText(t, clip, "data")
	_, err := runCLI(t, env, "import", clip, "--duration", "1")
	if !errors.Is(err, errLocked) {
		t.Fatalf("expected errLocked, got %v", err)
	}
}

func TestDoctorReportsChecks(t *testing.T) {
	env := setupCLITestEnv(t, "heuristic")
	binDir := filepath.Join(env.baseDir, "bin")
	testsupport.WriteScript(t, filepath.Join(binDir, "ffmpeg"), `cat <<'OUT'
 ------
 V....D libvpx-vp9           libvpx VP9
 A....D libopus              libopus Opus
OUT
`)
	testsupport.PrependPath(t, binDir)

	out, err := runCLI(t, env, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "Capture encoders")
	requireContains(t, out, "on request only (trim.mode = heuristic)")
}

func ageFile(t *testing.T, path string, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestDoctorCleanSweepsScratch(t *testing.T) {
	env := setupCLITestEnv(t, "none")
	stale := filepath.Join(env.dataDir, "scratch", "trim-123")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	writeText(t, filepath.Join(stale, "in.webm"), "12345")
	ageFile(t, stale, time.Minute)

	out, _ := runCLI(t, env, "doctor", "--clean")
	requireContains(t, out, "Removed 1 scratch entries")
	requireContains(t, out, "Scratch usage")
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed, stat err = %v", stale, err)
	}
}

func TestImportSweepsOldHandles(t *testing.T) {
	env := setupCLITestEnv(t, "none")
	handles := filepath.Join(env.dataDir, "scratch", "handles")
	if err := os.MkdirAll(handles, 0o755); err != nil {
		t.Fatal(err)
	}
	old := filepath.Join(handles, "gone-1.webm")
	fresh := filepath.Join(handles, "other-1.webm")
	writeText(t, old, "old")
	writeText(t, fresh, "fresh")
	ageFile(t, old, 48*time.Hour)

	importClip(t, env)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old handle removed, stat err = %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh handle should survive: %v", err)
	}
}

func TestLogsFiltersByRecording(t *testing.T) {
	env := setupCLITestEnv(t, "none")
	logDir := filepath.Join(env.dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeText(t, filepath.Join(logDir, "flux.log"), `{"ts":"t1","level":"info","msg":"saved","component":"pipeline","recording_id":"abc"}
{"ts":"t2","level":"info","msg":"saved","component":"pipeline","recording_id":"xyz"}
{"ts":"t3","level":"warn","msg":"fallback","component":"trim","recording_id":"abc"}
`)

	out, err := runCLI(t, env, "logs", "--recording", "abc")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "t1 INFO  pipeline: saved recording_id=abc")
	requireContains(t, out, "t3 WARN  trim: fallback recording_id=abc")
	if strings.Contains(out, "xyz") {
		t.Fatalf("unexpected entry for other recording:\n%s", out)
	}

	out, err = runCLI(t, env, "logs", "-n", "1", "--raw")
	if err != nil {
		t.Fatalf("logs --raw: %v", err)
	}
	if strings.TrimSpace(out) != `{"ts":"t3","level":"warn","msg":"fallback","component":"trim","recording_id":"abc"}` {
		t.Fatalf("unexpected raw output: %q", out)
	}
}
