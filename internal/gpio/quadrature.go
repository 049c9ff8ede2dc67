package gpio

import "sync/atomic"

// quadSteps maps prev<<2|cur, with state = a<<1|b, to a count step.
// 00 -> 01 -> 11 -> 10 -> 00 counts up.
var quadSteps = [16]int8{
	0, +1, -1, 0,
	-1, 0, 0, +1,
	+1, 0, 0, -1,
	0, -1, +1, 0,
}

// Quadrature is an x4 quadrature decoder. Edge is called from the encoder
// event handler; Position may be read from any goroutine.
type Quadrature struct {
	state   atomic.Uint32
	pos     atomic.Int64
	skipped atomic.Uint64
}

// Edge feeds the current A and B levels after an edge on either channel.
func (q *Quadrature) Edge(a, b bool) {
	var cur uint32
	if a {
		cur |= 2
	}
	if b {
		cur |= 1
	}
	prev := q.state.Swap(cur)
	if prev == cur {
		return
	}
	if prev^cur == 3 {
		// Both channels changed: an edge was missed, direction unknown.
		q.skipped.Add(1)
		return
	}
	q.pos.Add(int64(quadSteps[prev<<2|cur]))
}

// Position returns the accumulated count.
func (q *Quadrature) Position() int64 {
	return q.pos.Load()
}

// Skipped returns how many transitions were ambiguous.
func (q *Quadrature) Skipped() uint64 {
	return q.skipped.Load()
}

// Sync records the current A/B levels without counting a step.
func (q *Quadrature) Sync(a, b bool) {
	var cur uint32
	if a {
		cur |= 2
	}
	if b {
		cur |= 1
	}
	q.state.Store(cur)
}
