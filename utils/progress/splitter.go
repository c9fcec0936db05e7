// Package progress provides a composable fractional progress reporter.
//
// A long-running job wraps its absolute progress sink in a Reporter, then
// splits the reporter across sub-tasks. Each sub-task reports 0-100 against
// its own handle without knowing how many siblings or ancestors exist; the
// contributions compose multiplicatively into the root sink.
package progress

import "errors"

// ErrInvalidArgument is returned for split counts below one.
var ErrInvalidArgument = errors.New("progress: split count must be at least 1")

// Sink receives absolute progress values between 0 and 100.
type Sink func(value float64)

// Reporter is a handle onto a share of an overall progress value.
type Reporter struct {
	root  *Reporter
	sink  Sink
	scale float64 // this handle's weight relative to the root
	last  float64 // last value reported directly on this handle
	total float64 // accumulated root value, maintained on the root only
}

// NewReporter wraps an absolute 0-100 sink in a root reporter.
func NewReporter(sink Sink) *Reporter {
	r := &Reporter{sink: sink, scale: 1}
	r.root = r
	return r
}

// Report sets this handle's progress to value (0-100). Deltas are forwarded
// to the root accumulator scaled by the handle's share, so direct reports and
// child reports mix freely.
func (r *Reporter) Report(value float64) {
	delta := value - r.last
	r.last = value
	r.root.add(delta * r.scale)
}

// Split divides the handle's remaining share into n equal children. Children
// may themselves be split; a grandchild from Split(3) then Split(5) moves the
// root by 100/15 when reported to completion.
func (r *Reporter) Split(n int) ([]*Reporter, error) {
	if n < 1 {
		return nil, ErrInvalidArgument
	}
	children := make([]*Reporter, n)
	for i := range children {
		children[i] = &Reporter{root: r.root, scale: r.scale / float64(n)}
	}
	return children, nil
}

// Value returns the accumulated root progress.
func (r *Reporter) Value() float64 {
	return r.root.total
}

func (r *Reporter) add(delta float64) {
	r.total += delta
	if r.sink != nil {
		r.sink(r.total)
	}
}
