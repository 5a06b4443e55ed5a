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
	"io"
	"log"
	"os/exec"
	"sync"

	"github.com/e2crawfo/nengo-mpi/engine"
	"github.com/e2crawfo/nengo-mpi/wire"
)

// worker is one live subprocess and the control connection Manager uses
// to drive it, mirroring the (*child) bookkeeping tenant.Manager keeps
// per tenant process: the exec.Cmd, its pipes, and nothing else held
// past what's needed to talk to it.
type worker struct {
	rank int
	cmd  *exec.Cmd
	in   io.WriteCloser
	out  io.ReadCloser
}

// Manager launches one real OS subprocess per rank and drives each over
// a control connection riding its stdin/stdout pipes, the same
// lazily-launched, one-process-per-unit-of-work shape as
// tenant.Manager, specialized here to a fixed, eagerly-launched
// communicator of worker processes rather than on-demand tenants.
type Manager struct {
	execPath string
	logger   *log.Logger

	mu      sync.Mutex
	workers []*worker
}

// NewManager returns a Manager that launches execPath as each worker's
// binary (ordinarily cmd/nengompid). logger may be nil to discard
// diagnostic output.
func NewManager(execPath string, logger *log.Logger) *Manager {
	return &Manager{execPath: execPath, logger: logger}
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// Spawn launches nprocs worker subprocesses, each given --rank,
// --nprocs, and --dt, collects their listen-address handshakes, and
// broadcasts the resulting peer table back to every worker so the Net
// transport mesh can connect itself before the build phase starts.
func (m *Manager) Spawn(nprocs int, dt float64, merged bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.workers) != 0 {
		return fmt.Errorf("sim: Manager.Spawn called twice")
	}

	workers := make([]*worker, nprocs)
	for r := 0; r < nprocs; r++ {
		args := []string{"--rank", fmt.Sprint(r), "--nprocs", fmt.Sprint(nprocs), "--dt", fmt.Sprint(dt)}
		if merged {
			args = append(args, "--merged")
		}
		cmd := exec.Command(m.execPath, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("sim: rank %d stdin pipe: %w", r, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("sim: rank %d stdout pipe: %w", r, err)
		}
		cmd.Stderr = nil
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("sim: rank %d start: %w", r, err)
		}
		workers[r] = &worker{rank: r, cmd: cmd, in: stdin, out: stdout}
	}
	m.workers = workers

	addrs := make([]string, nprocs)
	for r, w := range workers {
		f, err := ReadFrame(w.out)
		if err != nil {
			return fmt.Errorf("sim: rank %d handshake: %w", r, err)
		}
		if f.Method != MethodHandshake {
			return fmt.Errorf("sim: rank %d: expected handshake, got method %d", r, f.Method)
		}
		hs, err := Decode[HandshakeMsg](f)
		if err != nil {
			return fmt.Errorf("sim: rank %d: decode handshake: %w", r, err)
		}
		addrs[r] = hs.ListenAddr
	}
	for r, w := range workers {
		if err := WriteFrame(w.in, MethodPeers, PeersMsg{Rank: r, Addrs: addrs}); err != nil {
			return fmt.Errorf("sim: rank %d: send peer table: %w", r, err)
		}
	}
	m.logf("sim: spawned %d workers", nprocs)
	return nil
}

// sendRaw relays bytes produced by a throwaway wire.Writer (see
// frameWriter) to rank's worker inside a control-channel BuildRecord
// message: the worker decodes them with its own wire.Reader, so the
// framing the network sees is identical to the teacher's writer/reader
// pairing, just tunneled through the control channel rather than a bare
// pipe.
func (m *Manager) sendRaw(rank int, frame []byte) error {
	return WriteFrame(m.workers[rank].in, MethodBuildRecord, frame)
}

func (m *Manager) ackOf(rank int) error {
	f, err := ReadFrame(m.workers[rank].out)
	if err != nil {
		return fmt.Errorf("sim: rank %d: read ack: %w", rank, err)
	}
	if f.Method != MethodAck {
		return fmt.Errorf("sim: rank %d: expected ack, got method %d", rank, f.Method)
	}
	ack, err := Decode[AckMsg](f)
	if err != nil {
		return fmt.Errorf("sim: rank %d: decode ack: %w", rank, err)
	}
	if ack.Error != "" {
		return fmt.Errorf("sim: rank %d: %s", rank, ack.Error)
	}
	return nil
}

// frameWriter adapts Manager.sendRaw to the io.Writer wire.NewWriter
// expects. Nothing is buffered: each Write call becomes its own
// BuildRecord message, so one record (header, then payload) travels as
// two messages.
type frameWriter struct {
	m    *Manager
	rank int
}

func (fw frameWriter) Write(p []byte) (int, error) {
	if err := fw.m.sendRaw(fw.rank, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// AddBaseSignal relays an add_signal record to rank and waits for its ack.
func (m *Manager) AddBaseSignal(rank int, rec wire.AddSignal) error {
	if err := wire.NewWriter(frameWriter{m, rank}).WriteAddSignal(rec); err != nil {
		return err
	}
	return m.ackOf(rank)
}

// AddOp relays an add_op record to rank and waits for its ack.
func (m *Manager) AddOp(rank int, rec wire.AddOp) error {
	if err := wire.NewWriter(frameWriter{m, rank}).WriteAddOp(rec); err != nil {
		return err
	}
	return m.ackOf(rank)
}

// AddProbe relays an add_probe record to rank and waits for its ack.
func (m *Manager) AddProbe(rank int, rec wire.AddProbe) error {
	if err := wire.NewWriter(frameWriter{m, rank}).WriteAddProbe(rec); err != nil {
		return err
	}
	return m.ackOf(rank)
}

// FinalizeBuild sends the terminal stop record followed by a Finalize
// control message to every rank.
func (m *Manager) FinalizeBuild(seed uint64, barrierPeriod int) error {
	for r, w := range m.workers {
		if err := wire.NewWriter(frameWriter{m, r}).WriteStop(); err != nil {
			return fmt.Errorf("sim: rank %d: write stop: %w", r, err)
		}
		_ = w
		if err := m.ackOf(r); err != nil {
			return err
		}
		if err := WriteFrame(m.workers[r].in, MethodFinalize, FinalizeMsg{Seed: seed + uint64(r), BarrierPeriod: barrierPeriod}); err != nil {
			return fmt.Errorf("sim: rank %d: send finalize: %w", r, err)
		}
		if err := m.ackOf(r); err != nil {
			return err
		}
	}
	return nil
}

// RunNSteps asks every rank to advance k steps and waits for all of
// their completion acks, since (as with Pool) any rank with an
// outstanding Send/Recv pair can only make progress while its peers do.
func (m *Manager) RunNSteps(k int) error {
	for r := range m.workers {
		if err := WriteFrame(m.workers[r].in, MethodRun, RunMsg{Steps: k}); err != nil {
			return fmt.Errorf("sim: rank %d: send run: %w", r, err)
		}
	}
	for r := range m.workers {
		if err := m.ackOf(r); err != nil {
			return err
		}
	}
	return nil
}

// ProbeData requests and returns a probe's flushed samples from rank.
func (m *Manager) ProbeData(rank int, key uint64) ([]engine.Tensor, error) {
	if err := WriteFrame(m.workers[rank].in, MethodProbeReq, ProbeReqMsg{ProbeKey: key}); err != nil {
		return nil, fmt.Errorf("sim: rank %d: send probe request: %w", rank, err)
	}
	f, err := ReadFrame(m.workers[rank].out)
	if err != nil {
		return nil, fmt.Errorf("sim: rank %d: read probe response: %w", rank, err)
	}
	resp, err := Decode[ProbeRespMsg](f)
	if err != nil {
		return nil, fmt.Errorf("sim: rank %d: decode probe response: %w", rank, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("sim: rank %d: %s", rank, resp.Error)
	}
	out := make([]engine.Tensor, len(resp.Samples))
	for i, t := range resp.Samples {
		out[i] = engine.Tensor{Shape1: t.Shape1, Shape2: t.Shape2, Data: t.Data}
	}
	return out, nil
}

// Reset asks every rank to reset under a new seed.
func (m *Manager) Reset(seed uint64) error {
	for r := range m.workers {
		if err := WriteFrame(m.workers[r].in, MethodReset, ResetMsg{Seed: seed + uint64(r)}); err != nil {
			return fmt.Errorf("sim: rank %d: send reset: %w", r, err)
		}
	}
	for r := range m.workers {
		if err := m.ackOf(r); err != nil {
			return err
		}
	}
	return nil
}

// Close tells every worker to shut down and waits for the subprocesses
// to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for r, w := range m.workers {
		if err := WriteFrame(w.in, MethodShutdown, struct{}{}); err != nil {
			m.logf("sim: rank %d: send shutdown: %v", r, err)
		}
		w.in.Close()
	}
	var firstErr error
	for r, w := range m.workers {
		if err := w.cmd.Wait(); err != nil {
			m.logf("sim: rank %d: exited with error: %v", r, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.workers = nil
	return firstErr
}
