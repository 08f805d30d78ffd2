package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ReplaySource reads detection frames from a JSON-lines log, one Frame per
// line. It backs the offline replay tool, which runs recorded footage
// through the full pipeline without a live detector.
type ReplaySource struct {
	r       *bufio.Scanner
	closer  io.Closer
	lineNum int
}

// OpenReplay opens a JSON-lines detection log.
func OpenReplay(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detection log: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &ReplaySource{r: sc, closer: f}, nil
}

// NewReplaySource wraps an in-memory reader; used by tests.
func NewReplaySource(r io.Reader) *ReplaySource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &ReplaySource{r: sc}
}

// Next returns the next logged frame. Blank lines are skipped; a malformed
// line is an error carrying its line number so bad logs are easy to fix.
func (s *ReplaySource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if !s.r.Scan() {
			if err := s.r.Err(); err != nil {
				return Frame{}, fmt.Errorf("read detection log: %w", err)
			}
			return Frame{}, ErrSourceClosed
		}
		s.lineNum++
		line := s.r.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return Frame{}, fmt.Errorf("detection log line %d: %w", s.lineNum, err)
		}
		return f, nil
	}
}

// Close releases the underlying file, if any.
func (s *ReplaySource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
