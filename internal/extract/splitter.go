package extract

import (
	"bytes"
)

// LineSplitter turns arbitrarily sized chunks into complete lines.
// A partial line is held until the chunk that completes it arrives.
type LineSplitter struct {
	pending []byte
	emit    func(line []byte) error
}

// NewLineSplitter calls emit for every complete, non-blank line.
// The slice passed to emit is only valid for the duration of the call.
func NewLineSplitter(emit func(line []byte) error) *LineSplitter {
	return &LineSplitter{emit: emit}
}

// Write consumes a chunk, emitting each line it completes
func (s *LineSplitter) Write(p []byte) (int, error) {
	n := len(p)
	for {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			break
		}
		var line []byte
		if len(s.pending) > 0 {
			s.pending = append(s.pending, p[:i]...)
			line = s.pending
		} else {
			line = p[:i]
		}
		if err := s.line(line); err != nil {
			return n - len(p), err
		}
		s.pending = s.pending[:0]
		p = p[i+1:]
	}
	s.pending = append(s.pending, p...)
	return n, nil
}

// Flush emits a final unterminated line, if any
func (s *LineSplitter) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	line := s.pending
	s.pending = s.pending[:0]
	return s.line(line)
}

// Pending returns the number of buffered bytes of an incomplete line
func (s *LineSplitter) Pending() int {
	return len(s.pending)
}

func (s *LineSplitter) line(b []byte) error {
	b = bytes.TrimSuffix(b, []byte{'\r'})
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	return s.emit(b)
}
