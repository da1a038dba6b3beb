package batch

import (
	"context"
	"time"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
)

// Coalescer merges consecutive deliveries on one subject into a single batch.
// A delivery is either a JSON array of records or a single JSON object.
// After the first delivery it keeps reading until Max records are buffered,
// the flush interval has passed or the source has nothing ready.
type Coalescer struct {
	Max   int
	Flush time.Duration

	// OnMalformed is called for every delivery that is neither a sequence
	// nor an object.
	OnMalformed func(payload []byte, err error)
	// OnDelivery reports how many elements a delivery carried and how many
	// of them were records.
	OnDelivery func(seen, kept int)
}

// Next blocks for the next delivery on src and returns the merged batch.
// ok is false once src is closed or ctx is done and nothing is buffered.
func (c *Coalescer) Next(ctx context.Context, src <-chan []byte) (b core.Batch, ok bool) {
	var first []byte
	select {
	case <-ctx.Done():
		return nil, false
	case p, open := <-src:
		if !open {
			return nil, false
		}
		first = p
	}
	b = c.add(b, first)

	var deadline <-chan time.Time
	if c.Flush > 0 {
		t := time.NewTimer(c.Flush)
		defer t.Stop()
		deadline = t.C
	}

	for c.Max < 1 || len(b) < c.Max {
		if deadline == nil {
			select {
			case p, open := <-src:
				if !open {
					return b, true
				}
				b = c.add(b, p)
				continue
			default:
				return b, true
			}
		}
		select {
		case p, open := <-src:
			if !open {
				return b, true
			}
			b = c.add(b, p)
		case <-deadline:
			return b, true
		case <-ctx.Done():
			return b, true
		}
	}
	return b, true
}

func (c *Coalescer) add(b core.Batch, payload []byte) core.Batch {
	recs, seen, err := fromDelivery(payload)
	if err != nil && c.OnMalformed != nil {
		c.OnMalformed(payload, err)
	}
	if c.OnDelivery != nil {
		c.OnDelivery(seen, len(recs))
	}
	return append(b, recs...)
}
