package stream

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader hands out its chunks one Read at a time.
type chunkedReader struct {
	chunks []string
	err    error
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func collect(t *testing.T, r *Reader) ([]StreamEvent, error) {
	t.Helper()
	var ret []StreamEvent
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return ret, err
		}
		ret = append(ret, ev)
	}
}

func TestReaderHappyPath(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"message_start","message":{"id":"X","role":"assistant"}}`,
		``,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"a"}}`,
		``,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"b"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"c"}}`,
		`data: [DONE]`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"ignored"}}`,
		``,
	}, "\n")

	events, err := collect(t, NewReader(strings.NewReader(body)))
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, MessageStart{Role: "assistant", ID: "X"}, events[0])
	assert.Equal(t, ContentDelta{Text: "a"}, events[1])
	assert.Equal(t, ContentDelta{Text: "b"}, events[2])
	assert.Equal(t, ContentDelta{Text: "c"}, events[3])
	assert.Equal(t, Done{}, events[4])
}

func TestReaderSkipsMalformedFrames(t *testing.T) {
	body := `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"a"}}` + "\n" +
		`data: {"type":"content_block_delta","delta":` + "\n" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"b"}}` + "\n" +
		"data: [DONE]\n"

	events, err := collect(t, NewReader(strings.NewReader(body)))
	require.NoError(t, err)
	assert.Equal(t, []StreamEvent{ContentDelta{Text: "a"}, ContentDelta{Text: "b"}, Done{}}, events)
}

func TestReaderFramesSplitAcrossChunks(t *testing.T) {
	frame := `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"日本"}}` + "\n"
	cut := strings.Index(frame, "本") + 1
	r := &chunkedReader{chunks: []string{frame[:10], frame[10:cut], frame[cut:], "data: [DO", "NE]\n"}}

	events, err := collect(t, NewReader(r))
	require.NoError(t, err)
	assert.Equal(t, []StreamEvent{ContentDelta{Text: "日本"}, Done{}}, events)
}

func TestReaderEndsWithoutDone(t *testing.T) {
	body := `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"a"}}`

	events, err := collect(t, NewReader(strings.NewReader(body)))
	require.NoError(t, err)
	assert.Equal(t, []StreamEvent{ContentDelta{Text: "a"}}, events)
}

func TestReaderInterruptBeforeRead(t *testing.T) {
	errStop := errors.New("stop")
	stop := false
	r := &chunkedReader{chunks: []string{
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"a"}}` + "\n",
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"b"}}` + "\n",
	}}
	reader := NewReader(r, WithInterrupt(func() error {
		if stop {
			return errStop
		}
		return nil
	}))

	ev, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, ContentDelta{Text: "a"}, ev)

	stop = true
	_, err = reader.Next()
	assert.ErrorIs(t, err, errStop)

	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderWrapsReadErrors(t *testing.T) {
	r := &chunkedReader{err: errors.New("connection reset")}
	_, err := NewReader(r).Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
