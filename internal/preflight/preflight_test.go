package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flux/internal/config"
	"flux/internal/fault"
	"flux/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_Blank(t *testing.T) {
	if result := CheckDirectoryAccess("test", ""); result.Passed {
		t.Fatal("expected failure for blank path")
	}
}

type stubCapability struct{ err error }

func (s stubCapability) Check() error { return s.err }

func TestCheckTrimEngine(t *testing.T) {
	unsupported := fault.Wrap(fault.ErrCapabilityUnsupported, "trim", "capability", "no engine", nil)
	tests := []struct {
		name       string
		mode       string
		capability Capability
		passed     bool
		detail     string
	}{
		{"heuristic mode", config.TrimModeHeuristic, stubCapability{}, true, "on request only (trim.mode = heuristic): available"},
		{"heuristic mode without engine", config.TrimModeHeuristic, stubCapability{err: unsupported}, true, "capability_unsupported"},
		{"no loader", config.TrimModePrecise, nil, false, "no engine loader"},
		{"unsupported", config.TrimModePrecise, stubCapability{err: unsupported}, false, "capability_unsupported"},
		{"available", config.TrimModePrecise, stubCapability{}, true, "available"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Trim.Mode = tc.mode
			result := CheckTrimEngine(&cfg, tc.capability)
			if result.Passed != tc.passed || !strings.Contains(result.Detail, tc.detail) {
				t.Fatalf("result = %#v", result)
			}
			if !result.Optional {
				t.Fatal("trim engine check must be optional")
			}
		})
	}
}

func TestCheckSystemDepsProbesEncoders(t *testing.T) {
	binDir := t.TempDir()
	testsupport.WriteScript(t, filepath.Join(binDir, "ffmpeg"), `cat <<'OUT'
 ------
 V....D libvpx-vp9           libvpx VP9
 A....D libopus              libopus Opus
OUT
`)
	testsupport.PrependPath(t, binDir)
	cfg := testsupport.NewConfig(t)
	cfg.Capture.FFmpegBinary = "ffmpeg"

	results := CheckSystemDeps(context.Background(), cfg)
	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Name] = r
	}
	if r := byName["FFmpeg"]; !r.Passed || r.Detail != filepath.Join(binDir, "ffmpeg") {
		t.Fatalf("ffmpeg result = %#v", r)
	}
	if r := byName["Capture encoders"]; !r.Passed {
		t.Fatalf("encoder result = %#v", r)
	}
	if _, ok := byName["FFprobe"]; !ok {
		t.Fatal("expected ffprobe check")
	}
}

func TestCheckSystemDepsMissingFFmpeg(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Capture.FFmpegBinary = "flux-missing-ffmpeg"

	results := CheckSystemDeps(context.Background(), cfg)
	if len(results) != 2 {
		t.Fatalf("expected no encoder probe without ffmpeg, got %d results", len(results))
	}
	if failed := Failed(results); len(failed) != 1 || failed[0].Name != "FFmpeg" {
		t.Fatalf("Failed() = %#v", failed)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_DirectoriesAndOptionalEngine(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffmpeg"))
	cfg.Capture.FFmpegBinary = "flux-missing-ffmpeg"
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.VaultDir, cfg.Paths.ScratchDir, cfg.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	unsupported := fault.Wrap(fault.ErrCapabilityUnsupported, "trim", "capability", "no engine", nil)

	results := RunAll(context.Background(), cfg, stubCapability{err: unsupported})
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "FFmpeg" {
		t.Fatalf("Failed() = %#v", failed)
	}
	last := results[len(results)-1]
	if last.Name != "Precise trim engine" || last.Passed {
		t.Fatalf("engine result = %#v", last)
	}
}
