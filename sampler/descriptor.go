package sampler

import (
	"fmt"
	"strings"
)

// Kind tells the accessor how a reading behaves over time.
type Kind int

const (
	// Gauge is a point-in-time value, e.g. queue depth.
	Gauge Kind = iota
	// Counter only grows until the source restarts or the value wraps.
	Counter
)

// Mode selects how a counter is reported.
type Mode int

const (
	// Rate reports the change per second.
	Rate Mode = iota
	// Delta reports the change since the previous poll.
	Delta
)

// Width is the integer width of a counter, used for wraparound correction.
type Width int

const (
	// Width64 counters are never wrap-corrected: any decrease is a reset.
	Width64 Width = 64
	// Width32 counters may wrap at 2^32.
	Width32 Width = 32
)

// Descriptor declares one exported metric. The store ignores it; only
// Accessor.Read consults it.
type Descriptor struct {
	// Name is the exported name, without the plugin prefix.
	Name string
	// Source is the key in the collector mapping. Defaults to Name.
	Source      string
	Kind        Kind
	Mode        Mode
	Width       Width
	Unit        string
	Format      string
	Group       string
	Scale       float64
	Description string
}

// SourceKey returns the collector mapping key the descriptor reads.
func (d Descriptor) SourceKey() string {
	if d.Source != "" {
		return d.Source
	}
	return d.Name
}

// Formatted renders v with the descriptor format, "%g" when none is set.
func (d Descriptor) Formatted(v float64) string {
	if d.Format == "" {
		return fmt.Sprintf("%g", v)
	}
	return fmt.Sprintf(d.Format, v)
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gauge":
		return Gauge, nil
	case "counter", "cumulative":
		return Counter, nil
	}
	return Gauge, fmt.Errorf("unknown metric kind %q", s)
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rate":
		return Rate, nil
	case "delta":
		return Delta, nil
	}
	return Rate, fmt.Errorf("unknown counter mode %q", s)
}

func ParseWidth(bits int) (Width, error) {
	switch bits {
	case 0, 64:
		return Width64, nil
	case 32:
		return Width32, nil
	}
	return Width64, fmt.Errorf("unsupported counter width %d", bits)
}

func (k Kind) String() string {
	if k == Counter {
		return "counter"
	}
	return "gauge"
}

func (m Mode) String() string {
	if m == Delta {
		return "delta"
	}
	return "rate"
}
