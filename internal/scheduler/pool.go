package scheduler

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Request is the share of the pool one command needs.
type Request struct {
	CPUs     int
	MemoryMB int
}

// Pool bounds how many commands run at once and how many CPUs and MB of
// memory they may claim together. Requests larger than the pool are clamped
// to its capacity so they can still run, alone.
type Pool struct {
	slots    *semaphore.Weighted
	cpus     *semaphore.Weighted
	memory   *semaphore.Weighted
	maxSlots int64
	maxCPUs  int64
	maxMem   int64
}

// NewPool returns a pool with the given capacities. Values below one are
// raised to one.
func NewPool(maxParallel, cpus, memoryMB int) *Pool {
	p := &Pool{
		maxSlots: int64(max(maxParallel, 1)),
		maxCPUs:  int64(max(cpus, 1)),
		maxMem:   int64(max(memoryMB, 1)),
	}
	p.slots = semaphore.NewWeighted(p.maxSlots)
	p.cpus = semaphore.NewWeighted(p.maxCPUs)
	p.memory = semaphore.NewWeighted(p.maxMem)
	return p
}

// Capacity returns the configured limits.
func (p *Pool) Capacity() (slots, cpus, memoryMB int) {
	return int(p.maxSlots), int(p.maxCPUs), int(p.maxMem)
}

// Clamp returns r limited to the pool capacity.
func (p *Pool) Clamp(r Request) Request {
	return Request{
		CPUs:     int(min(int64(max(r.CPUs, 0)), p.maxCPUs)),
		MemoryMB: int(min(int64(max(r.MemoryMB, 0)), p.maxMem)),
	}
}

// Acquire blocks until r fits or ctx is done. The returned function gives
// the share back and must be called exactly once.
func (p *Pool) Acquire(ctx context.Context, r Request) (func(), error) {
	r = p.Clamp(r)
	cpus, mem := int64(r.CPUs), int64(r.MemoryMB)

	// Always acquire in the same order so concurrent callers cannot hold
	// pieces the other one is waiting for in reverse.
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := p.cpus.Acquire(ctx, cpus); err != nil {
		p.slots.Release(1)
		return nil, err
	}
	if err := p.memory.Acquire(ctx, mem); err != nil {
		p.cpus.Release(cpus)
		p.slots.Release(1)
		return nil, err
	}
	return func() {
		p.memory.Release(mem)
		p.cpus.Release(cpus)
		p.slots.Release(1)
	}, nil
}
