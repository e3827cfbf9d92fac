package scan

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// Frame is one captured image. At is the capture time; zero means now.
type Frame struct {
	Data []byte
	At   time.Time
}

// FrameSource blocks until the next frame is available. io.EOF ends capture.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Decoder returns the identifier found in frame, if any.
type Decoder interface {
	Decode(frame Frame) (string, bool)
}

type DecoderFunc func(frame Frame) (string, bool)

func (f DecoderFunc) Decode(frame Frame) (string, bool) { return f(frame) }

// PassthroughDecoder treats the frame data as an already decoded identifier.
var PassthroughDecoder = DecoderFunc(func(frame Frame) (string, bool) {
	if len(frame.Data) == 0 {
		return "", false
	}
	return string(frame.Data), true
})

// Capture pulls frames from source, decodes each one and pushes a Read per
// frame onto out. Frames without a badge produce an empty Read so that
// consecutive-frame streaks are broken. Capture does not close out.
func Capture(ctx context.Context, source FrameSource, decoder Decoder, out chan<- Read) error {
	for {
		frame, err := source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		read := Read{At: frame.At}
		if read.At.IsZero() {
			read.At = time.Now()
		}
		if identifier, ok := decoder.Decode(frame); ok {
			read.Identifier = identifier
		}
		select {
		case out <- read:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type lineFrame struct {
	frame Frame
	err   error
}

// LineSource reads one frame per line from an external decoder process.
// Blank lines are frames without a badge. Close stops delivery; a reader
// blocked inside r.Read only returns when r does.
type LineSource struct {
	frames chan lineFrame
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func NewLineSource(r io.Reader) *LineSource {
	s := &LineSource{
		frames: make(chan lineFrame),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go func() {
		defer close(s.exited)
		defer close(s.frames)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !s.send(lineFrame{frame: Frame{Data: []byte(line), At: time.Now()}}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			s.send(lineFrame{err: err})
		}
	}()
	return s
}

func (s *LineSource) send(item lineFrame) bool {
	select {
	case s.frames <- item:
		return true
	case <-s.done:
		return false
	}
}

func (s *LineSource) Next(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.done:
		return Frame{}, io.EOF
	case item, ok := <-s.frames:
		if !ok {
			return Frame{}, io.EOF
		}
		return item.frame, item.err
	}
}

// Close releases the reader goroutine. It is safe to call more than once.
func (s *LineSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
