package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const segmentExt = ".jsonl.zst"

// stream is one append-only JSONL record kind inside a run directory, split
// into hourly zstd segments named <kind>-<UTC hour>.jsonl.zst.
type stream struct {
	dir  string
	kind string
	now  func() time.Time

	mu   sync.Mutex
	seg  string
	file *os.File
	zw   *zstd.Encoder
	bw   *bufio.Writer
	enc  *json.Encoder
}

func newStream(runDir, kind string) *stream {
	return &stream{dir: filepath.Join(runDir, kind), kind: kind, now: time.Now}
}

func (s *stream) segmentFor(t time.Time) string {
	return s.kind + "-" + t.UTC().Format("2006-01-02-15") + segmentExt
}

func (s *stream) append(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg := s.segmentFor(s.now()); seg != s.seg || s.enc == nil {
		if err := s.switchTo(seg); err != nil {
			return err
		}
	}
	// json.Encoder terminates every record with a newline.
	if err := s.enc.Encode(v); err != nil {
		return err
	}
	return s.bw.Flush()
}

func (s *stream) switchTo(seg string) error {
	if err := s.closeSegment(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, seg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file, s.zw, s.seg = f, zw, seg
	s.bw = bufio.NewWriterSize(zw, 128*1024)
	s.enc = json.NewEncoder(s.bw)
	return nil
}

func (s *stream) closeSegment() error {
	if s.file == nil {
		return nil
	}
	_ = s.bw.Flush()
	err := s.zw.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file, s.zw, s.bw, s.enc = nil, nil, nil, nil
	return err
}

func (s *stream) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeSegment()
}

// segments lists the stream's files oldest first. A run that never wrote
// this kind has no segments.
func (s *stream) segments() ([]string, error) {
	ents, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, s.kind+"-") || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		out = append(out, filepath.Join(s.dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// scan decodes every record of the stream in write order.
func (s *stream) scan(fn func(line []byte) error) error {
	paths, err := s.segments()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := scanSegment(p, fn); err != nil {
			return err
		}
	}
	return nil
}

func scanSegment(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
	}
	return sc.Err()
}
