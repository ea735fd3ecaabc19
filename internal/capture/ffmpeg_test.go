package capture_test

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"flux/internal/capture"
	"flux/internal/testsupport"
)

func TestFFmpegEncoderSupports(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	enc := capture.NewFFmpegEncoder(cfg, nil)
	tests := []struct {
		mime string
		want bool
	}{
		{"video/webm;codecs=vp9,opus", true},
		{"video/webm", true},
		{"video/webm;codecs=vp8,vorbis", true},
		{"video/webm;codecs=av1,opus", false},
		{"video/mp4;codecs=h264", false},
	}
	for _, tc := range tests {
		if got := enc.Supports(tc.mime); got != tc.want {
			t.Errorf("Supports(%q) = %v, want %v", tc.mime, got, tc.want)
		}
	}
}

func TestFFmpegDevicesProbeInputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var calls [][]string
	devices := capture.NewFFmpegDevices(cfg, nil, capture.WithProbeRunner(func(ctx context.Context, name string, args ...string) error {
		calls = append(calls, args)
		if strings.Contains(strings.Join(args, " "), cfg.Capture.SystemAudio) {
			return errors.New("no monitor")
		}
		return nil
	}))

	stream, err := devices.RequestDisplay(context.Background())
	if err != nil {
		t.Fatalf("RequestDisplay: %v", err)
	}
	tracks := stream.Tracks()
	if len(tracks) != 1 || tracks[0].Kind() != capture.TrackVideo {
		t.Fatalf("expected only the video track when system audio fails, got %d", len(tracks))
	}
	input := tracks[0].(capture.InputTrack).InputArgs()
	want := []string{"-f", "x11grab", "-framerate", "30", "-i", ":99.0"}
	if !reflect.DeepEqual(input, want) {
		t.Fatalf("input args = %v, want %v", input, want)
	}
	if len(calls) != 2 {
		t.Fatalf("expected display and system audio probes, got %d", len(calls))
	}

	mic, err := devices.RequestMicrophone(context.Background())
	if err != nil {
		t.Fatalf("RequestMicrophone: %v", err)
	}
	if got := mic.Tracks()[0].Label(); got != "pulse default" {
		t.Fatalf("mic label = %q", got)
	}
}

func TestFFmpegDevicesDisplayUnavailable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	devices := capture.NewFFmpegDevices(cfg, nil, capture.WithProbeRunner(func(context.Context, string, ...string) error {
		return errors.New("cannot open display")
	}))
	if _, err := devices.RequestDisplay(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestFFmpegDevicesMicrophoneDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Capture.Microphone = ""
	devices := capture.NewFFmpegDevices(cfg, nil, capture.WithProbeRunner(func(context.Context, string, ...string) error {
		t.Fatal("probe should not run")
		return nil
	}))
	if _, err := devices.RequestMicrophone(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func displayTracks(t *testing.T, withSystem bool) []capture.Track {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if !withSystem {
		cfg.Capture.SystemAudio = ""
	}
	devices := capture.NewFFmpegDevices(cfg, nil, capture.WithProbeRunner(func(context.Context, string, ...string) error { return nil }))
	display, err := devices.RequestDisplay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	tracks := display.Tracks()
	mic, err := devices.RequestMicrophone(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return append(tracks, mic.Tracks()...)
}

func TestEncoderArgs(t *testing.T) {
	t.Run("mixes two audio sources", func(t *testing.T) {
		args, err := capture.EncoderArgs(displayTracks(t, true), "video/webm;codecs=vp9,opus")
		if err != nil {
			t.Fatal(err)
		}
		joined := strings.Join(args, " ")
		for _, want := range []string{
			"-map 0:v",
			"-filter_complex [1:a][2:a]amix=inputs=2[aout]",
			"-map [aout]",
			"-c:v libvpx-vp9",
			"-c:a libopus",
			"-f webm pipe:1",
		} {
			if !strings.Contains(joined, want) {
				t.Fatalf("args missing %q: %s", want, joined)
			}
		}
	})
	t.Run("single audio source is mapped directly", func(t *testing.T) {
		args, err := capture.EncoderArgs(displayTracks(t, false), "video/webm;codecs=vp8,vorbis")
		if err != nil {
			t.Fatal(err)
		}
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "-map 1:a") || strings.Contains(joined, "amix") {
			t.Fatalf("unexpected audio mapping: %s", joined)
		}
		if !strings.Contains(joined, "-c:v libvpx ") || !strings.Contains(joined, "-c:a libvorbis") {
			t.Fatalf("unexpected codecs: %s", joined)
		}
	})
	t.Run("requires video", func(t *testing.T) {
		tracks := displayTracks(t, false)[1:]
		if _, err := capture.EncoderArgs(tracks, "video/webm"); err == nil {
			t.Fatal("expected error without video")
		}
	})
}

func TestFFmpegEncoderStreamsStdout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	bin := filepath.Join(testsupport.BaseDir(cfg), "bin", "ffmpeg")
	// Emits a header, waits for the quit command on stdin, then emits a trailer.
	testsupport.WriteScript(t, bin, "printf 'head'\nread cmd\nprintf 'tail'\n")
	cfg.Capture.FFmpegBinary = bin

	enc := capture.NewFFmpegEncoder(cfg, nil)
	rec, err := enc.Start(context.Background(), displayTracks(t, false), "video/webm")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 4 && time.Now().Before(deadline) {
		chunk, err := rec.Flush()
		if err != nil {
			t.Fatalf("Flush: %v", err)
		}
		got = append(got, chunk...)
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tail, err := rec.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	got = append(got, tail...)
	if string(got) != "headtail" {
		t.Fatalf("output = %q, want headtail", got)
	}
}
