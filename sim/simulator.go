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

import "github.com/e2crawfo/nengo-mpi/engine"

// backend is the common contract Simulator drives, implemented by both
// Pool (in-process, used for tests and single-binary runs) and Manager
// (one real OS subprocess per rank). Simulator itself never knows which
// is in play.
type backend interface {
	FinalizeAll(seed uint64, barrierPeriod int) error
	RunNSteps(k int) error
	ProbeDataOf(rank int, key uint64) ([]engine.Tensor, error)
	ResetAll(seed uint64) error
	CloseAll() error
}

// poolBackend adapts Pool to backend.
type poolBackend struct{ p *Pool }

func (b poolBackend) FinalizeAll(seed uint64, barrierPeriod int) error {
	return b.p.FinalizeAll(seed, barrierPeriod)
}
func (b poolBackend) RunNSteps(k int) error { return b.p.RunNSteps(k) }
func (b poolBackend) ProbeDataOf(rank int, key uint64) ([]engine.Tensor, error) {
	return b.p.ProbeData(rank, key)
}
func (b poolBackend) ResetAll(seed uint64) error { b.p.Reset(seed); return nil }
func (b poolBackend) CloseAll() error            { return nil }

// managerBackend adapts Manager to backend.
type managerBackend struct{ m *Manager }

func (b managerBackend) FinalizeAll(seed uint64, barrierPeriod int) error {
	return b.m.FinalizeBuild(seed, barrierPeriod)
}
func (b managerBackend) RunNSteps(k int) error { return b.m.RunNSteps(k) }
func (b managerBackend) ProbeDataOf(rank int, key uint64) ([]engine.Tensor, error) {
	return b.m.ProbeData(rank, key)
}
func (b managerBackend) ResetAll(seed uint64) error { return b.m.Reset(seed) }
func (b managerBackend) CloseAll() error            { return b.m.Close() }

// Simulator is the top-level handle a caller drives a whole distributed
// run through: finalize the build, run steps, read probes, reset, and
// eventually close, regardless of whether the ranks live in-process or
// as subprocesses.
type Simulator struct {
	backend backend
}

// NewInProcessSimulator wraps a Pool of n in-process chunks.
func NewInProcessSimulator(n int, dt float64, merged bool) (*Simulator, *Pool) {
	p := NewPool(n, dt, merged)
	return &Simulator{backend: poolBackend{p}}, p
}

// NewDistributedSimulator wraps a Manager that has already Spawned its
// worker subprocesses.
func NewDistributedSimulator(m *Manager) *Simulator {
	return &Simulator{backend: managerBackend{m}}
}

// FinalizeBuild closes the build phase across every rank.
func (s *Simulator) FinalizeBuild(seed uint64, barrierPeriod int) error {
	return s.backend.FinalizeAll(seed, barrierPeriod)
}

// RunNSteps advances every rank by k steps.
func (s *Simulator) RunNSteps(k int) error {
	return s.backend.RunNSteps(k)
}

// ProbeData flushes and returns one rank's probe buffer.
func (s *Simulator) ProbeData(rank int, probeKey uint64) ([]engine.Tensor, error) {
	return s.backend.ProbeDataOf(rank, probeKey)
}

// Reset restores every rank to its build-time state under seed.
func (s *Simulator) Reset(seed uint64) error {
	return s.backend.ResetAll(seed)
}

// Close releases whatever resources the backend holds (subprocesses,
// open connections); a no-op for the in-process backend.
func (s *Simulator) Close() error {
	return s.backend.CloseAll()
}
