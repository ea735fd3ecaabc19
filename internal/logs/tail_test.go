package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flux/internal/logs"
)

const sample = `{"ts":"t1","level":"info","msg":"capture started","component":"capture","recording_id":"a"}
{"ts":"t2","level":"debug","msg":"chunk","component":"capture","recording_id":"a"}
not json
{"ts":"t3","level":"warn","msg":"trim fell back","component":"trim","recording_id":"b"}
{"ts":"t4","level":"error","msg":"write failed","component":"vault","recording_id":"a"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flux.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func collect(t *testing.T, path string, opts logs.Options) []logs.Entry {
	t.Helper()
	var out []logs.Entry
	if err := logs.Tail(context.Background(), path, opts, func(e logs.Entry) { out = append(out, e) }); err != nil {
		t.Fatalf("tail: %v", err)
	}
	return out
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, sample)
	got := collect(t, path, logs.Options{Lines: 2})
	if len(got) != 2 || got[0].Message != "trim fell back" || got[1].Message != "write failed" {
		t.Fatalf("unexpected entries: %#v", got)
	}
}

func TestTailKeepsUndecodedLines(t *testing.T) {
	path := writeLog(t, sample)
	got := collect(t, path, logs.Options{Lines: 3})
	if len(got) != 3 || got[0].Raw != "not json" || got[0].Message != "" {
		t.Fatalf("unexpected entries: %#v", got)
	}
}

func TestTailFilters(t *testing.T) {
	path := writeLog(t, sample)
	tests := []struct {
		name   string
		filter logs.Filter
		want   []string
	}{
		{"recording", logs.Filter{RecordingID: "a"}, []string{"t1", "t2", "t4"}},
		{"component", logs.Filter{Component: "TRIM"}, []string{"t3"}},
		{"level", logs.Filter{MinLevel: "warn"}, []string{"t3", "t4"}},
		{"combined", logs.Filter{RecordingID: "a", MinLevel: "info"}, []string{"t1", "t4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(t, path, logs.Options{Lines: 10, Filter: tt.filter})
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d: %#v", len(got), len(tt.want), got)
			}
			for i, e := range got {
				if e.Time != tt.want[i] {
					t.Fatalf("entry %d time = %q, want %q", i, e.Time, tt.want[i])
				}
			}
		})
	}
}

func TestTailMissingFile(t *testing.T) {
	err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "none.log"), logs.Options{Lines: 5}, func(logs.Entry) {})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTailFollowPicksUpAppends(t *testing.T) {
	path := writeLog(t, "{\"msg\":\"start\"}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	arrived := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- logs.Tail(ctx, path, logs.Options{Lines: 1, Follow: true, Poll: 10 * time.Millisecond}, func(e logs.Entry) {
			mu.Lock()
			got = append(got, e.Message)
			mu.Unlock()
			arrived <- struct{}{}
		})
	}()

	<-arrived
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	// Written in two parts so the partial line is held back until complete.
	_, _ = file.WriteString("{\"msg\":\"la")
	_ = file.Sync()
	time.Sleep(30 * time.Millisecond)
	_, _ = file.WriteString("ter\"}\n")
	_ = file.Close()

	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("appended line never arrived")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("follow returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "start" || got[1] != "later" {
		t.Fatalf("unexpected messages: %#v", got)
	}
}

func TestTailFollowAfterRotation(t *testing.T) {
	path := writeLog(t, "{\"msg\":\"old line that is fairly long\"}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	arrived := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- logs.Tail(ctx, path, logs.Options{Follow: true, Poll: 10 * time.Millisecond}, func(e logs.Entry) {
			arrived <- e.Message
		})
	}()

	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(path, []byte("{\"msg\":\"new\"}\n"), 0o644); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	select {
	case msg := <-arrived:
		if msg != "new" {
			t.Fatalf("got %q after rotation", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rotated file was never read")
	}
	cancel()
	<-done
}
