package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"flux/internal/config"
	"flux/internal/logging"
	"flux/internal/media"
)

type commandRunner func(ctx context.Context, name string, args ...string) error

// InputTrack is a Track that knows the ffmpeg input arguments that open it.
type InputTrack interface {
	Track
	InputArgs() []string
}

type ffmpegTrack struct {
	kind     TrackKind
	label    string
	args     []string
	released atomic.Bool
}

func (t *ffmpegTrack) Kind() TrackKind { return t.kind }

func (t *ffmpegTrack) Label() string { return t.label }

func (t *ffmpegTrack) InputArgs() []string { return append([]string(nil), t.args...) }

func (t *ffmpegTrack) Stop() { t.released.Store(true) }

// Released reports whether Stop has been called.
func (t *ffmpegTrack) Released() bool { return t.released.Load() }

// FFmpegDevices opens X11 and PulseAudio inputs through ffmpeg. Each request
// probes the input briefly; a failed probe means the device is unavailable.
type FFmpegDevices struct {
	binary      string
	inputFormat string
	display     string
	framerate   int
	audioFormat string
	systemAudio string
	microphone  string
	probe       commandRunner
	logger      *slog.Logger
}

// DevicesOption customizes FFmpegDevices.
type DevicesOption func(*FFmpegDevices)

// WithProbeRunner injects a custom probe runner (primarily for tests).
func WithProbeRunner(r commandRunner) DevicesOption {
	return func(d *FFmpegDevices) {
		if r != nil {
			d.probe = r
		}
	}
}

// NewFFmpegDevices builds devices from the capture configuration.
func NewFFmpegDevices(cfg *config.Config, logger *slog.Logger, opts ...DevicesOption) *FFmpegDevices {
	d := &FFmpegDevices{
		binary:      cfg.Capture.FFmpegBinary,
		inputFormat: cfg.Capture.InputFormat,
		display:     cfg.Capture.Display,
		framerate:   cfg.Capture.Framerate,
		audioFormat: cfg.Capture.AudioFormat,
		systemAudio: cfg.Capture.SystemAudio,
		microphone:  cfg.Capture.Microphone,
		probe:       runProbe,
		logger:      logging.NewComponentLogger(logger, "capture"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RequestDisplay implements Devices.
func (d *FFmpegDevices) RequestDisplay(ctx context.Context) (Stream, error) {
	video := &ffmpegTrack{
		kind:  TrackVideo,
		label: d.inputFormat + " " + d.display,
		args: []string{
			"-f", d.inputFormat,
			"-framerate", strconv.Itoa(d.framerate),
			"-i", d.display,
		},
	}
	if err := d.probeInput(ctx, video.args, "-frames:v", "1"); err != nil {
		return nil, fmt.Errorf("display %s: %w", d.display, err)
	}
	tracks := []Track{video}

	if d.systemAudio != "" {
		audio := &ffmpegTrack{
			kind:  TrackAudio,
			label: d.audioFormat + " " + d.systemAudio,
			args:  []string{"-f", d.audioFormat, "-i", d.systemAudio},
		}
		if err := d.probeInput(ctx, audio.args, "-t", "0.1"); err != nil {
			d.logger.Debug("system audio unavailable", logging.String("source", d.systemAudio), logging.Error(err))
		} else {
			tracks = append(tracks, audio)
		}
	}
	return NewStream(tracks...), nil
}

// RequestMicrophone implements Devices.
func (d *FFmpegDevices) RequestMicrophone(ctx context.Context) (Stream, error) {
	if d.microphone == "" {
		return nil, errors.New("microphone disabled in configuration")
	}
	mic := &ffmpegTrack{
		kind:  TrackAudio,
		label: d.audioFormat + " " + d.microphone,
		args:  []string{"-f", d.audioFormat, "-i", d.microphone},
	}
	if err := d.probeInput(ctx, mic.args, "-t", "0.1"); err != nil {
		return nil, fmt.Errorf("microphone %s: %w", d.microphone, err)
	}
	return NewStream(mic), nil
}

func (d *FFmpegDevices) probeInput(ctx context.Context, input []string, limit ...string) error {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args, limit...)
	args = append(args, "-f", "null", "-")
	return d.probe(ctx, d.binary, args...)
}

func runProbe(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr strings.Builder
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

var supportedCodecs = map[string]bool{"vp8": true, "vp9": true, "opus": true, "vorbis": true}

// FFmpegEncoder encodes all tracks with one ffmpeg process writing WebM to stdout.
type FFmpegEncoder struct {
	binary string
	logger *slog.Logger
}

// NewFFmpegEncoder builds an encoder using cfg.Capture.FFmpegBinary.
func NewFFmpegEncoder(cfg *config.Config, logger *slog.Logger) *FFmpegEncoder {
	return &FFmpegEncoder{
		binary: cfg.Capture.FFmpegBinary,
		logger: logging.NewComponentLogger(logger, "capture"),
	}
}

// Supports reports whether mimeType is WebM with codecs ffmpeg can produce here.
func (e *FFmpegEncoder) Supports(mimeType string) bool {
	if media.BaseMIME(mimeType) != media.MIMEWebM {
		return false
	}
	for _, codec := range media.Codecs(mimeType) {
		if !supportedCodecs[strings.ToLower(codec)] {
			return false
		}
	}
	return true
}

// EncoderArgs returns the ffmpeg arguments that combine tracks into one WebM
// stream on stdout. Audio tracks are mixed into one.
func EncoderArgs(tracks []Track, mimeType string) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	videoIdx := -1
	var audioIdx []int
	for i, track := range tracks {
		input, ok := track.(InputTrack)
		if !ok {
			return nil, fmt.Errorf("track %q cannot be opened by ffmpeg", track.Label())
		}
		args = append(args, input.InputArgs()...)
		switch track.Kind() {
		case TrackVideo:
			if videoIdx < 0 {
				videoIdx = i
			}
		case TrackAudio:
			audioIdx = append(audioIdx, i)
		}
	}
	if videoIdx < 0 {
		return nil, errors.New("no video track")
	}

	videoCodec, audioCodec := "libvpx-vp9", "libopus"
	for _, codec := range media.Codecs(mimeType) {
		switch strings.ToLower(codec) {
		case "vp8":
			videoCodec = "libvpx"
		case "vorbis":
			audioCodec = "libvorbis"
		}
	}

	args = append(args, "-map", fmt.Sprintf("%d:v", videoIdx))
	switch len(audioIdx) {
	case 0:
	case 1:
		args = append(args, "-map", fmt.Sprintf("%d:a", audioIdx[0]))
	default:
		var filter strings.Builder
		for _, idx := range audioIdx {
			fmt.Fprintf(&filter, "[%d:a]", idx)
		}
		fmt.Fprintf(&filter, "amix=inputs=%d[aout]", len(audioIdx))
		args = append(args, "-filter_complex", filter.String(), "-map", "[aout]")
	}
	args = append(args,
		"-c:v", videoCodec, "-deadline", "realtime", "-cpu-used", "8", "-row-mt", "1",
	)
	if len(audioIdx) > 0 {
		args = append(args, "-c:a", audioCodec)
	}
	args = append(args, "-f", "webm", "pipe:1")
	return args, nil
}

// Start launches ffmpeg. The process outlives ctx; it ends when the returned
// Recorder is stopped.
func (e *FFmpegEncoder) Start(ctx context.Context, tracks []Track, mimeType string) (Recorder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args, err := EncoderArgs(tracks, mimeType)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(e.binary, args...) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdout: %w", err)
	}
	rec := &ffmpegRecorder{cmd: cmd, stdin: stdin, copied: make(chan error, 1), logger: e.logger}
	cmd.Stderr = &rec.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	go rec.drain(stdout)
	e.logger.Debug("encoder started", logging.String("args", strings.Join(args, " ")))
	return rec, nil
}

type ffmpegRecorder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	copied chan error
	logger *slog.Logger

	mu  sync.Mutex
	buf bytes.Buffer

	stopOnce sync.Once
	stopErr  error
}

func (r *ffmpegRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *ffmpegRecorder) drain(stdout io.Reader) {
	_, err := io.Copy(r, stdout)
	r.copied <- err
}

func (r *ffmpegRecorder) Flush() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf.Len() == 0 {
		return nil, nil
	}
	out := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	return out, nil
}

// Stop asks ffmpeg to quit, waits for stdout to drain, and kills the process
// if ctx ends first.
func (r *ffmpegRecorder) Stop(ctx context.Context) ([]byte, error) {
	r.stopOnce.Do(func() {
		_, _ = io.WriteString(r.stdin, "q")
		_ = r.stdin.Close()

		select {
		case err := <-r.copied:
			if err != nil {
				r.stopErr = fmt.Errorf("read encoder output: %w", err)
			}
		case <-ctx.Done():
			_ = r.cmd.Process.Kill()
			<-r.copied
			r.stopErr = ctx.Err()
		}
		if err := r.cmd.Wait(); err != nil && r.stopErr == nil {
			var exitErr *exec.ExitError
			// ffmpeg exits 255 when interrupted mid-stream; the output is still usable.
			if !errors.As(err, &exitErr) || exitErr.ExitCode() != 255 {
				r.stopErr = fmt.Errorf("encoder: %w: %s", err, strings.TrimSpace(r.stderr.String()))
			}
		}
	})
	tail, _ := r.Flush()
	return tail, r.stopErr
}
