// Package barstore implements the per-pair time-bucketed OHLC and indicator
// engine: pending/finalized bar lifecycle, reorg-aware pruning, staleness
// eviction, and EMA/Bollinger-band computation.
package barstore

import "fmt"

// Resolution is a bucket width in whole seconds.
type Resolution int64

const (
	Resolution5Min  Resolution = 300
	Resolution1Hour Resolution = 3600
	Resolution4Hour Resolution = 14400
)

// Offset is the bucket width in seconds.
func (r Resolution) Offset() int64 { return int64(r) }

func (r Resolution) String() string {
	switch r {
	case Resolution5Min:
		return "5m"
	case Resolution1Hour:
		return "1h"
	case Resolution4Hour:
		return "4h"
	default:
		return fmt.Sprintf("%ds", int64(r))
	}
}

// ParseResolution accepts the external-interface spellings (5m|1h|4h).
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "5m":
		return Resolution5Min, nil
	case "1h":
		return Resolution1Hour, nil
	case "4h":
		return Resolution4Hour, nil
	default:
		return 0, fmt.Errorf("barstore: unknown resolution %q", s)
	}
}

// ResolutionTimestamp is a unix timestamp floored down to a Resolution grid.
type ResolutionTimestamp int64

// NewResolutionTimestamp floors t to the nearest resolution multiple.
func NewResolutionTimestamp(t int64, r Resolution) ResolutionTimestamp {
	off := r.Offset()
	return ResolutionTimestamp(t - (((t % off) + off) % off))
}

// Zero is the smallest representable bucket timestamp (epoch bucket 0).
func Zero() ResolutionTimestamp { return 0 }

// Previous returns the prior bucket at the given resolution.
func (rt ResolutionTimestamp) Previous(r Resolution) ResolutionTimestamp {
	return rt - ResolutionTimestamp(r.Offset())
}

// Next returns the following bucket at the given resolution.
func (rt ResolutionTimestamp) Next(r Resolution) ResolutionTimestamp {
	return rt + ResolutionTimestamp(r.Offset())
}

// Decrement is an alias for Previous retained for symmetry with the
// original resolution_timestamp decrement/increment naming.
func (rt ResolutionTimestamp) Decrement(r Resolution) ResolutionTimestamp { return rt.Previous(r) }

// Increment is an alias for Next.
func (rt ResolutionTimestamp) Increment(r Resolution) ResolutionTimestamp { return rt.Next(r) }
