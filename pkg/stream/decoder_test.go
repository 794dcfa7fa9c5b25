package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderCarriesPartialLines(t *testing.T) {
	d := NewDecoder()

	lines := d.Feed([]byte("data: {\"type\":\"content_"))
	assert.Empty(t, lines)

	lines = d.Feed([]byte("block_delta\"}\ndata: [DO"))
	require.Equal(t, []string{`data: {"type":"content_block_delta"}`}, lines)

	lines = d.Feed([]byte("NE]\r\n\n"))
	assert.Equal(t, []string{"data: [DONE]", ""}, lines)

	_, ok := d.Flush()
	assert.False(t, ok)
}

func TestDecoderSplitRune(t *testing.T) {
	d := NewDecoder()
	full := []byte("data: {\"text\":\"héllo ✓\"}\n")

	// cut inside the three byte check mark
	cut := strings.Index(string(full), "✓") + 1
	lines := d.Feed(full[:cut])
	assert.Empty(t, lines)
	lines = d.Feed(full[cut:])
	require.Len(t, lines, 1)
	assert.Equal(t, "data: {\"text\":\"héllo ✓\"}", lines[0])
}

func TestDecoderFlushReturnsUnterminatedLine(t *testing.T) {
	d := NewDecoder()
	assert.Empty(t, d.Feed([]byte("data: [DONE]")))
	line, ok := d.Flush()
	require.True(t, ok)
	assert.Equal(t, "data: [DONE]", line)

	_, ok = d.Flush()
	assert.False(t, ok)
}

func TestDecoderDropsOversizedLines(t *testing.T) {
	d := NewDecoder(WithMaxLineSize(8))

	assert.Empty(t, d.Feed([]byte("0123456789")))
	assert.Empty(t, d.Feed([]byte("still too long")))
	lines := d.Feed([]byte("tail\nok\n"))
	assert.Equal(t, []string{"ok"}, lines)

	lines = d.Feed([]byte("short\n0123456789abc\nfine\n"))
	assert.Equal(t, []string{"short", "fine"}, lines)
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line    string
		kind    LineKind
		payload string
	}{
		{"", LineIgnored, ""},
		{": keepalive", LineIgnored, ""},
		{"event: message", LineIgnored, ""},
		{"data:{\"type\":\"x\"}", LineIgnored, ""},
		{"data: [DONE]", LineDone, ""},
		{"data: not json", LineIgnored, ""},
		{"data: ", LineIgnored, ""},
		{"data: {\"type\":\"x\"}", LineData, "{\"type\":\"x\"}"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			kind, payload := ClassifyLine(tt.line)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.payload, string(payload))
		})
	}
}
