package runner

import "context"

// Lease grants exclusive mutation rights over one project checkout. Every
// write to a checkout must happen under its lease; runs against different
// checkouts proceed in parallel.
type Lease struct {
	sem chan struct{}
}

func NewLease() *Lease {
	return &Lease{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lease is free or ctx is done. The returned
// function releases the lease and must be called exactly once.
func (l *Lease) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes the lease without blocking.
func (l *Lease) TryAcquire() (func(), bool) {
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, true
	default:
		return nil, false
	}
}
