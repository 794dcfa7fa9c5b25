package stream

import (
	"bytes"

	"github.com/rs/zerolog/log"
)

// MaxLineSize bounds how many bytes a single unterminated line may buffer.
// Anything longer is dropped up to the next newline.
const MaxLineSize = 1 << 20

// Decoder splits an arbitrarily chunked byte stream into complete lines.
//
// A trailing partial line (including a multi-byte rune cut in half) is kept
// as raw bytes and prepended to the next chunk, so lines are only ever
// converted once they are whole.
type Decoder struct {
	buf        []byte
	discarding bool
	maxLine    int
}

type DecoderOption func(*Decoder)

func WithMaxLineSize(n int) DecoderOption {
	return func(d *Decoder) {
		d.maxLine = n
	}
}

func NewDecoder(options ...DecoderOption) *Decoder {
	ret := &Decoder{maxLine: MaxLineSize}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Feed appends chunk to the carryover buffer and returns every line that is
// now complete, without its terminating newline or a trailing \r.
func (d *Decoder) Feed(chunk []byte) []string {
	var lines []string

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			if !d.discarding {
				d.buf = append(d.buf, chunk...)
				if len(d.buf) > d.maxLine {
					log.Debug().Int("buffered", len(d.buf)).Int("max", d.maxLine).Msg("dropping oversized line")
					d.buf = d.buf[:0]
					d.discarding = true
				}
			}
			break
		}

		if d.discarding {
			d.discarding = false
		} else {
			d.buf = append(d.buf, chunk[:i]...)
			if len(d.buf) > d.maxLine {
				log.Debug().Int("buffered", len(d.buf)).Int("max", d.maxLine).Msg("dropping oversized line")
			} else {
				lines = append(lines, string(bytes.TrimSuffix(d.buf, []byte("\r"))))
			}
		}
		d.buf = d.buf[:0]
		chunk = chunk[i+1:]
	}

	return lines
}

// Flush returns the final unterminated line, if any, and resets the decoder.
func (d *Decoder) Flush() (string, bool) {
	defer func() {
		d.buf = d.buf[:0]
		d.discarding = false
	}()
	if d.discarding || len(d.buf) == 0 {
		return "", false
	}
	return string(bytes.TrimSuffix(d.buf, []byte("\r"))), true
}

type LineKind int

const (
	// LineIgnored is anything that is not a data frame, including blank
	// separator lines and data frames whose payload is not a JSON object.
	LineIgnored LineKind = iota
	LineData
	LineDone
)

const (
	dataPrefix  = "data: "
	donePayload = "[DONE]"
)

// ClassifyLine decides what a complete line means for the stream. For
// LineData the returned payload is the JSON object after the prefix.
func ClassifyLine(line string) (LineKind, []byte) {
	if len(line) < len(dataPrefix) || line[:len(dataPrefix)] != dataPrefix {
		return LineIgnored, nil
	}
	payload := line[len(dataPrefix):]
	if payload == donePayload {
		return LineDone, nil
	}
	if len(payload) == 0 || payload[0] != '{' {
		return LineIgnored, nil
	}
	return LineData, []byte(payload)
}
