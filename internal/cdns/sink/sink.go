// Package sink provides the rotatable output byte sink for capture files.
// A sink writes to a temporary file and atomically renames it into place on
// close, so a crash never leaves a half-written file under the final name.
// Output is optionally compressed with gzip or xz; the sink reports the
// filename extension its compression implies.
package sink

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"go.uber.org/multierr"

	"github.com/haukened/cdns/internal/cdns/common/log"
)

// StdoutName is the sink name that writes to standard output instead of a
// file. Stdout sinks skip the temp-file rename.
const StdoutName = "-"

// Kind selects the compression applied to sink output.
type Kind int

const (
	KindPlain Kind = iota
	KindGzip
	KindXz
)

// ParseKind parses a compression name from configuration.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "", "none":
		return KindPlain, nil
	case "gzip":
		return KindGzip, nil
	case "xz":
		return KindXz, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// Extension returns the filename extension the kind appends to output
// patterns.
func (k Kind) Extension() string {
	switch k {
	case KindGzip:
		return ".gz"
	case KindXz:
		return ".xz"
	default:
		return ""
	}
}

// Sink is a byte sink for one output file. BytesWritten counts bytes
// accepted by Write, before compression.
type Sink interface {
	io.Writer
	Close() error
	BytesWritten() uint64
}

// fileSink writes through an optional compressor into a temp file, and
// renames it to the final name on close.
type fileSink struct {
	name     string
	tempName string
	file     *os.File
	out      io.Writer
	closer   io.Closer // compressor, nil for plain output
	written  uint64
	logging  bool
	logger   log.Logger
}

// Open creates a sink for name with the given compression. For gzip, level
// 0 selects the compressor default; xz output ignores the level.
func Open(name string, kind Kind, level int, logging bool, logger log.Logger) (Sink, error) {
	s := &fileSink{
		name:    name,
		logging: logging,
		logger:  logger,
	}

	var raw io.Writer
	if name == StdoutName {
		raw = os.Stdout
	} else {
		s.tempName = name + ".tmp"
		f, err := os.Create(s.tempName)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", s.tempName, err)
		}
		if logging {
			logger.Info(map[string]any{"file": s.tempName}, "opened temporary capture file")
		}
		s.file = f
		raw = f
	}

	switch kind {
	case KindPlain:
		s.out = raw
	case KindGzip:
		if level == 0 {
			level = gzip.DefaultCompression
		}
		gw, err := gzip.NewWriterLevel(raw, level)
		if err != nil {
			s.abandon()
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		s.out = gw
		s.closer = gw
	case KindXz:
		xw, err := xz.NewWriter(raw)
		if err != nil {
			s.abandon()
			return nil, fmt.Errorf("xz writer: %w", err)
		}
		s.out = xw
		s.closer = xw
	default:
		s.abandon()
		return nil, fmt.Errorf("unknown sink kind %d", kind)
	}
	return s, nil
}

// abandon closes the temp file without renaming it, after a setup failure.
func (s *fileSink) abandon() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

func (s *fileSink) Write(p []byte) (int, error) {
	n, err := s.out.Write(p)
	s.written += uint64(n)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", s.name, err)
	}
	return n, nil
}

func (s *fileSink) BytesWritten() uint64 {
	return s.written
}

// Close finalizes the compressor, closes the temp file and renames it to
// the final name. On any error the temp file is left in place for
// inspection.
func (s *fileSink) Close() error {
	var err error
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("finalize compression for %s: %w", s.name, cerr))
		}
		s.closer = nil
	}
	if s.file == nil {
		return err
	}
	if cerr := s.file.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close %s: %w", s.tempName, cerr))
	}
	s.file = nil
	if err != nil {
		return err
	}
	if s.logging {
		s.logger.Info(map[string]any{"from": s.tempName, "to": s.name}, "renaming temporary capture file")
	}
	if rerr := os.Rename(s.tempName, s.name); rerr != nil {
		return fmt.Errorf("rename %s to %s: %w", s.tempName, s.name, rerr)
	}
	return nil
}
