package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"flux/internal/logging"
)

const defaultPoll = 250 * time.Millisecond

// Filter narrows tailed entries. Empty fields match everything.
type Filter struct {
	RecordingID string
	Component   string
	MinLevel    string
}

// Options configures Tail.
type Options struct {
	// Lines is how many trailing entries to emit before following. Zero or
	// less emits none.
	Lines  int
	Follow bool
	Filter Filter
	Poll   time.Duration
}

// Entry is one decoded log line. Raw holds the original text; lines that are
// not JSON keep only Raw.
type Entry struct {
	Time        string
	Level       string
	Message     string
	Component   string
	RecordingID string
	Raw         string
}

// Tail emits matching entries from path to emit. With Follow set it keeps
// polling for appended lines until ctx is cancelled, and returns nil then.
// A missing file is not an error in follow mode; Tail waits for it.
func Tail(ctx context.Context, path string, opts Options, emit func(Entry)) error {
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}

	offset, err := emitLast(path, opts, emit)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || !opts.Follow {
			return err
		}
		offset = 0
	}
	if !opts.Follow {
		return nil
	}

	ticker := time.NewTicker(opts.Poll)
	defer ticker.Stop()
	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		next, rest, err := readAppended(path, offset, partial, opts.Filter, emit)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		offset, partial = next, rest
	}
}

// emitLast emits the final opts.Lines matching entries and returns the file
// size it read up to.
func emitLast(path string, opts Options, emit func(Entry)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var ring []Entry
	if opts.Lines > 0 {
		ring = make([]Entry, 0, opts.Lines)
	}
	var start int
	reader := bufio.NewReader(file)
	var read int64
	for {
		line, err := reader.ReadString('\n')
		if strings.HasSuffix(line, "\n") {
			read += int64(len(line))
			if entry, ok := decode(line); ok && opts.Filter.Matches(entry) && opts.Lines > 0 {
				if len(ring) < opts.Lines {
					ring = append(ring, entry)
				} else {
					ring[start] = entry
					start = (start + 1) % opts.Lines
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read log: %w", err)
		}
	}
	for i := range ring {
		emit(ring[(start+i)%len(ring)])
	}
	return read, nil
}

// readAppended emits complete lines written after offset. A trailing line
// without a newline is carried in the returned partial text. If the file
// shrank, it was rotated and reading starts over.
func readAppended(path string, offset int64, partial string, filter Filter, emit func(Entry)) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return offset, partial, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, partial, err
	}
	if info.Size() < offset {
		offset, partial = 0, ""
	}
	if info.Size() == offset {
		return offset, partial, nil
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, partial, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return offset, partial, err
	}
	offset += int64(len(data))
	text := partial + string(data)
	for {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			break
		}
		if entry, ok := decode(text[:idx+1]); ok && filter.Matches(entry) {
			emit(entry)
		}
		text = text[idx+1:]
	}
	return offset, text, nil
}

func decode(line string) (Entry, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Entry{}, false
	}
	entry := Entry{Raw: line}
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return entry, true
	}
	entry.Time = stringField(fields, logging.KeyTime)
	entry.Level = strings.ToUpper(stringField(fields, logging.KeyLevel))
	entry.Message = stringField(fields, logging.KeyMessage)
	entry.Component = stringField(fields, logging.FieldComponent)
	entry.RecordingID = stringField(fields, logging.FieldRecordingID)
	return entry, true
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

// Matches reports whether entry passes the filter. Entries that could not be
// decoded only pass an empty filter.
func (f Filter) Matches(entry Entry) bool {
	if f.RecordingID != "" && entry.RecordingID != f.RecordingID {
		return false
	}
	if f.Component != "" && !strings.EqualFold(entry.Component, f.Component) {
		return false
	}
	if f.MinLevel != "" && levelRank(entry.Level) < levelRank(f.MinLevel) {
		return false
	}
	return true
}

func levelRank(level string) int {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return 0
	case "INFO", "":
		return 1
	case "WARN", "WARNING":
		return 2
	case "ERROR":
		return 3
	default:
		return 1
	}
}
