package writer

import (
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// outputPattern expands a strftime-style filename pattern and tracks when a
// time-based rotation is due. The pattern is validated once at construction;
// unknown tokens are a configuration error.
type outputPattern struct {
	format string
	period time.Duration
	next   time.Time
}

func newOutputPattern(pattern string, period time.Duration) (*outputPattern, error) {
	// Only the directives are checked; literal text, digits included, is
	// copied into the filename as is.
	var directives strings.Builder
	for i := 0; i+1 < len(pattern); i++ {
		if pattern[i] == '%' {
			directives.WriteString(pattern[i : i+2])
			i++
		}
	}
	if _, err := strftime.Layout(directives.String()); err != nil {
		return nil, fmt.Errorf("invalid output pattern %q: %w", pattern, err)
	}
	return &outputPattern{
		format: pattern,
		period: period,
	}, nil
}

// Filename expands the pattern for ts and arms the next rotation boundary.
func (p *outputPattern) Filename(ts time.Time) string {
	p.next = ts.Truncate(p.period).Add(p.period)
	return strftime.Format(p.format, ts.UTC())
}

// NeedRotate reports whether ts has crossed the rotation boundary armed by
// the last Filename call.
func (p *outputPattern) NeedRotate(ts time.Time) bool {
	return !ts.Before(p.next)
}
