package stream

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ReadChunkSize is how many bytes Reader asks the body for at a time.
const ReadChunkSize = 4096

// Reader turns a response body into StreamEvents.
//
// Next returns Done once the [DONE] frame is seen, and io.EOF afterwards or
// when the body ends without one. Malformed frames are logged and skipped.
type Reader struct {
	r         io.Reader
	decoder   *Decoder
	chunk     []byte
	pending   []StreamEvent
	interrupt func() error
	done      bool
	eof       bool
	frames    int
}

type ReaderOption func(*Reader)

// WithInterrupt installs a check run before every chunk read. A non-nil
// error from it is returned by Next as is and ends the stream.
func WithInterrupt(f func() error) ReaderOption {
	return func(r *Reader) {
		r.interrupt = f
	}
}

func WithDecoder(d *Decoder) ReaderOption {
	return func(r *Reader) {
		r.decoder = d
	}
}

func NewReader(r io.Reader, options ...ReaderOption) *Reader {
	ret := &Reader{
		r:     r,
		chunk: make([]byte, ReadChunkSize),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.decoder == nil {
		ret.decoder = NewDecoder()
	}
	return ret
}

func (r *Reader) Next() (StreamEvent, error) {
	for {
		if len(r.pending) > 0 {
			ev := r.pending[0]
			r.pending = r.pending[1:]
			return ev, nil
		}
		if r.done || r.eof {
			return nil, io.EOF
		}

		if r.interrupt != nil {
			if err := r.interrupt(); err != nil {
				r.done = true
				return nil, err
			}
		}

		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.handleLines(r.decoder.Feed(r.chunk[:n]))
		}
		if err == nil {
			continue
		}

		if err == io.EOF {
			if line, ok := r.decoder.Flush(); ok {
				r.handleLines([]string{line})
			}
			if !r.done {
				log.Debug().Int("frames", r.frames).Msg("stream body ended without [DONE]")
			}
			r.eof = true
			continue
		}

		// a cancelled request surfaces as a read error, report the interrupt instead
		if r.interrupt != nil {
			if ierr := r.interrupt(); ierr != nil {
				r.done = true
				return nil, ierr
			}
		}
		r.done = true
		return nil, errors.Wrap(err, "could not read stream")
	}
}

func (r *Reader) handleLines(lines []string) {
	for _, line := range lines {
		if r.done {
			return
		}
		kind, payload := ClassifyLine(line)
		switch kind {
		case LineIgnored:
			continue
		case LineDone:
			r.done = true
			r.pending = append(r.pending, Done{})
		case LineData:
			ev, err := Interpret(payload)
			if err != nil {
				log.Debug().Err(err).Str("payload", truncate(line, 200)).Msg("skipping malformed frame")
				continue
			}
			r.frames++
			log.Trace().Object("event", ev).Int("frame", r.frames).Msg("parsed stream event")
			r.pending = append(r.pending, ev)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
