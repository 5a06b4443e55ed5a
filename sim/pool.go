// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package sim

import (
	"fmt"
	"sync"

	"github.com/e2crawfo/nengo-mpi/comm"
	"github.com/e2crawfo/nengo-mpi/engine"
	"github.com/e2crawfo/nengo-mpi/signal"
)

// Pool runs every rank's Chunk in its own goroutine within a single Go
// process, communicating over comm.Local, the same concurrent-fan-out
// shape as the teacher's plan/exec.go executor pool (one worker per
// partition, all driven from a shared barrier/wait point) but applied
// to simulation steps instead of query sub-plans. Pool is the harness
// tests and single-machine runs use; Manager is the real multi-process
// path.
type Pool struct {
	chunks []*engine.Chunk
	hub    *comm.Hub
}

// NewPool allocates n Chunks sharing one in-process comm.Hub.
func NewPool(n int, dt float64, merged bool) *Pool {
	hub := comm.NewHub(n)
	chunks := make([]*engine.Chunk, n)
	for r := 0; r < n; r++ {
		chunks[r] = engine.NewChunk(r, dt, comm.NewLocal(hub, r), merged)
	}
	return &Pool{chunks: chunks, hub: hub}
}

// Chunk returns the Chunk for rank, so a caller can drive
// AddBaseSignal/AddOp/AddProbe directly during the build phase.
func (p *Pool) Chunk(rank int) *engine.Chunk { return p.chunks[rank] }

// NProcs returns the pool's rank count.
func (p *Pool) NProcs() int { return len(p.chunks) }

// FinalizeAll calls FinalizeBuild on every chunk with a per-rank seed
// derived from the run seed, so distinct ranks get distinct (but
// reproducible) noise streams while still being driven by one logical
// run seed.
func (p *Pool) FinalizeAll(seed uint64, barrierPeriod int) error {
	for r, c := range p.chunks {
		if err := c.FinalizeBuild(seed+uint64(r), barrierPeriod); err != nil {
			return fmt.Errorf("sim: finalize rank %d: %w", r, err)
		}
	}
	return nil
}

// RunNSteps advances every chunk by k steps concurrently; since every
// chunk's Send/Recv pair blocks until its peer also steps, running them
// serially would deadlock once more than one rank exists.
func (p *Pool) RunNSteps(k int) error {
	var wg sync.WaitGroup
	errs := make([]error, len(p.chunks))
	for i, c := range p.chunks {
		wg.Add(1)
		go func(i int, c *engine.Chunk) {
			defer wg.Done()
			errs[i] = c.RunNSteps(k)
		}(i, c)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("sim: rank %d: %w", i, err)
		}
	}
	return nil
}

// Reset resets every chunk under seed+rank, mirroring FinalizeAll's
// per-rank seed derivation.
func (p *Pool) Reset(seed uint64) {
	for r, c := range p.chunks {
		c.Reset(seed + uint64(r))
	}
}

// ProbeData flushes one rank's probe buffer.
func (p *Pool) ProbeData(rank int, key uint64) ([]engine.Tensor, error) {
	return p.chunks[rank].ProbeData(signal.Key(key))
}
