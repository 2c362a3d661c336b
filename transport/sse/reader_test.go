package sse

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct {
	data string
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.data == "" {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestReadEventSingleData(t *testing.T) {
	r := NewReader(strings.NewReader("event: endpoint\ndata: /message?sessionId=abc\n\n"))

	ev, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "endpoint", ev.Event)
	assert.Equal(t, "/message?sessionId=abc", ev.Data)

	_, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadEventJoinsDataLines(t *testing.T) {
	r := NewReader(strings.NewReader("data: {\"a\":\ndata:1}\nid: 7\nretry: 1500\n\n"))

	ev, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":\n1}", ev.Data)
	assert.Equal(t, "7", ev.ID)
	assert.Equal(t, 1500, ev.Retry)
}

func TestReadEventSkipsCommentsAndEmptyEvents(t *testing.T) {
	stream := ": keep-alive\n\n\r\nevent: ping\n\ndata: first\r\n\r\n:comment\ndata: second\n\n"
	r := NewReader(strings.NewReader(stream))

	ev, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "first", ev.Data)
	assert.Equal(t, "", ev.Event, "fields of a data-less event must not leak into the next one")

	ev, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "second", ev.Data)
}

func TestReadEventKeepsSecondLeadingSpace(t *testing.T) {
	r := NewReader(strings.NewReader("data:  padded\n\n"))
	ev, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, " padded", ev.Data)
}

func TestReadEventDropsUnterminatedEvent(t *testing.T) {
	r := NewReader(strings.NewReader("data: complete\n\ndata: partial"))

	ev, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "complete", ev.Data)

	_, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadEventPropagatesReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewReader(&failingReader{data: "data: x\n", err: boom})

	_, err := r.ReadEvent()
	assert.ErrorIs(t, err, boom)
}

func TestReadEventLongLine(t *testing.T) {
	long := strings.Repeat("x", 256*1024)
	r := NewReader(strings.NewReader("data: " + long + "\n\n"))
	ev, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Len(t, ev.Data, len(long))
}
