package blockstm

import (
	"golang.org/x/sync/errgroup"
)

// Pool is a worker budget shared by every executor built on it. No more
// than Workers transactions run at once across all of them.
type Pool struct {
	sem chan struct{}
}

// NewPool returns a pool running at most workers tasks at a time. Values
// below one are raised to one.
func NewPool(workers int) *Pool {
	return &Pool{sem: make(chan struct{}, max(workers, 1))}
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return cap(p.sem)
}

// Run calls fn for every index in [0, n) with at most limit calls in flight
// and returns the first error.
func (p *Pool) Run(n, limit int, fn func(i int) error) error {
	var g errgroup.Group
	g.SetLimit(max(limit, 1))

	for i := range n {
		g.Go(func() error {
			p.sem <- struct{}{}
			defer func() { <-p.sem }()

			return fn(i)
		})
	}

	return g.Wait()
}
