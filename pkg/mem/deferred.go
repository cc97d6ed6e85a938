package mem

import "fmt"

// deferredDP is the subset of DebugPort the deferred-read pipeline needs.
type deferredDP interface {
	ReadAPDefer(apNum, addr uint32) (uint32, error)
	ReadAPLast() (uint32, error)
}

// DeferredReader builds a chain of deferred AP reads. The AP pipelines
// reads one deep: each Next() call issues one more read and returns the
// data for the *previous* issued read (undefined on the first call, which
// this type discards automatically). Finish() must always be called to
// flush the final pending result through RDBUFF; forgetting it silently
// drops the last word.
type DeferredReader struct {
	dp   deferredDP
	ap   uint32
	addr uint32

	issued int
	values []uint32
	err    error
}

// NewDeferredReader returns a DeferredReader issuing reads of addr on ap.
func NewDeferredReader(dp deferredDP, ap, addr uint32) *DeferredReader {
	return &DeferredReader{dp: dp, ap: ap, addr: addr}
}

// Next issues one more deferred read, appending the data for the previous
// issued read (if any) to the accumulated values. It returns the error from
// the underlying transaction, if any; callers that want to fail fast
// should check the return value directly rather than waiting for Finish.
func (p *DeferredReader) Next() error {
	if p.err != nil {
		return p.err
	}
	v, err := p.dp.ReadAPDefer(p.ap, p.addr)
	if err != nil {
		p.err = fmt.Errorf("mem: deferred read issue: %w", err)
		return p.err
	}
	if p.issued > 0 {
		p.values = append(p.values, v)
	}
	p.issued++
	return nil
}

// Finish flushes the final pending read through RDBUFF and returns every
// value collected so far, in issue order. It is always safe to call, even
// with zero issued reads.
func (p *DeferredReader) Finish() ([]uint32, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.issued == 0 {
		return p.values, nil
	}
	v, err := p.dp.ReadAPLast()
	if err != nil {
		return nil, fmt.Errorf("mem: deferred read finish: %w", err)
	}
	p.values = append(p.values, v)
	return p.values, nil
}
