// Package sse reads upstream server-sent events and writes client-facing ones.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DoneMarker is the OpenAI end-of-stream data payload.
const DoneMarker = "[DONE]"

// DefaultMaxLineSize bounds a single SSE line; large tool arguments can
// arrive as one data line.
const DefaultMaxLineSize = 16 * 1024 * 1024

// ErrLineTooLong is returned when a line exceeds the reader's limit. The
// stream cannot be resumed after it.
var ErrLineTooLong = errors.New("sse: line exceeds size limit")

// Event is one SSE frame.
type Event struct {
	Event string
	Data  string
	ID    string
}

// IsDone reports whether the frame is the OpenAI terminator.
func (e Event) IsDone() bool {
	return strings.TrimSpace(e.Data) == DoneMarker
}

// Reader splits a byte stream into SSE frames. Both \n and \r\n line endings
// are accepted; multi-line data fields are joined with \n.
type Reader struct {
	scanner *bufio.Scanner
	limit   int
}

// NewReader wraps r with DefaultMaxLineSize.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxLineSize)
}

// NewReaderSize wraps r, failing with ErrLineTooLong on lines over limit bytes.
func NewReaderSize(r io.Reader, limit int) *Reader {
	scanner := bufio.NewScanner(r)
	// 设置较大的缓冲区以处理长行
	initial := 64 * 1024
	if limit < initial {
		initial = limit
	}
	scanner.Buffer(make([]byte, 0, initial), limit)
	return &Reader{scanner: scanner, limit: limit}
}

// Next returns the next frame, or io.EOF after the last one. A final frame
// without a trailing blank line is still returned.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		pending bool
	)

	for r.scanner.Scan() {
		line := bytes.TrimSuffix(r.scanner.Bytes(), []byte("\r"))

		if len(line) == 0 {
			if pending {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			ev.Event = value
			pending = true
		case "data":
			data = append(data, value)
			pending = true
		case "id":
			ev.ID = value
			pending = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Event{}, fmt.Errorf("%w (%d bytes)", ErrLineTooLong, r.limit)
		}
		return Event{}, err
	}
	if pending {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return Event{}, io.EOF
}

func splitField(line []byte) (string, string) {
	idx := bytes.IndexByte(line, ':')
	if idx == -1 {
		return string(line), ""
	}
	value := line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:idx]), string(value)
}
