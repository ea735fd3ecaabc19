package ffprobe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"flux/internal/media"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video"},
			{CodecType: "audio"},
			{CodecType: "audio"},
		},
		Format: Format{Duration: "123.45", Size: "1000"},
	}
	if result.VideoStreamCount() != 1 {
		t.Fatalf("expected 1 video stream, got %d", result.VideoStreamCount())
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestDurationFallsBackToStreams(t *testing.T) {
	result := Result{
		Streams: []Stream{{Duration: "9.5"}, {Duration: "10.02"}, {Duration: "N/A"}},
		Format:  Format{Duration: "N/A", Size: "-1"},
	}
	if got := result.DurationSeconds(); got != 10.02 {
		t.Fatalf("expected longest stream duration, got %v", got)
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if (Result{Format: Format{Duration: "bad"}}).DurationSeconds() != 0 {
		t.Fatal("expected unparsable duration to be 0")
	}
}

func TestInspectParsesStubOutput(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "ffprobe")
	script := "#!/bin/sh\ncat <<'JSON'\n{\"streams\":[{\"index\":0,\"codec_type\":\"video\",\"codec_name\":\"vp9\"}],\"format\":{\"duration\":\"10.000000\",\"format_name\":\"matroska,webm\"}}\nJSON\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	result, err := Inspect(context.Background(), stub, filepath.Join(dir, "in.webm"))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if result.DurationSeconds() != 10 || result.VideoStreamCount() != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestInspectRejectsEmptyPath(t *testing.T) {
	if _, err := Inspect(context.Background(), "ffprobe", " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestInspectPayloadWritesTemporaryFile(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "ffprobe")
	script := "#!/bin/sh\nfor arg; do last=$arg; done\ncase \"$last\" in *.webm) ;; *) exit 2 ;; esac\n[ -s \"$last\" ] || exit 1\necho '{\"format\":{\"duration\":\"3.5\"}}'\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	scratch := filepath.Join(dir, "scratch")
	result, err := InspectPayload(context.Background(), stub, scratch, media.Payload{Data: []byte("webm"), MIMEType: media.MIMEWebM})
	if err != nil {
		t.Fatalf("InspectPayload: %v", err)
	}
	if result.DurationSeconds() != 3.5 {
		t.Fatalf("duration = %v", result.DurationSeconds())
	}
	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("temporary probe file left behind: %v", entries)
	}
}
