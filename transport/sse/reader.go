// Package sse implements the client side of the Server-Sent Events stream used by
// the hybrid SSE+HTTP MCP transport: event framing and message endpoint discovery.
package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Event is one Server-Sent Event.
type Event struct {
	Event string
	Data  string
	ID    string
	Retry int
}

// Reader splits an SSE stream into events.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r. Lines of any length are accepted.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadEvent blocks until a blank line terminates an event carrying data, and
// returns it. Multiple data lines of one event are joined with "\n". Events
// without data (comments, keep-alives) are skipped. A partially accumulated
// event is dropped when the stream ends; the read error is returned as is.
func (r *Reader) ReadEvent() (Event, error) {
	var (
		event   Event
		data    strings.Builder
		hasData bool
	)

	for {
		line, err := r.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return Event{}, err
		}
		eof := err == io.EOF

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if hasData {
				event.Data = data.String()
				return event, nil
			}
			event = Event{}
		} else {
			field, value := splitField(line)
			switch field {
			case "data":
				if hasData {
					data.WriteByte('\n')
				}
				data.WriteString(value)
				hasData = true
			case "event":
				event.Event = value
			case "id":
				event.ID = value
			case "retry":
				if n, err := strconv.Atoi(value); err == nil {
					event.Retry = n
				}
			}
		}

		if eof {
			return Event{}, io.EOF
		}
	}
}

// splitField splits "field: value" removing at most one space after the colon.
// Comment lines (leading colon) yield an empty field name.
func splitField(line string) (string, string) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, ""
	}
	value := line[i+1:]
	value = strings.TrimPrefix(value, " ")
	return line[:i], value
}
