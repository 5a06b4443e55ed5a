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

// Package engine holds the operator set, the per-step schedule, probe
// sampling, and the Chunk type that assembles them into one running
// simulation process, grounded the way tenant.Manager in the teacher
// owns a single query's worker lifecycle: build once from a record
// stream, then run repeatedly until told to stop.
package engine

import (
	"fmt"
	"sort"

	"github.com/e2crawfo/nengo-mpi/comm"
	"github.com/e2crawfo/nengo-mpi/signal"
	"github.com/e2crawfo/nengo-mpi/wire"
)

// commLink is a not-yet-finalized MPISend/MPIRecv request recorded
// during the build phase; FinalizeBuild turns it into either a plain
// comm.Send/comm.Recv or, in merged mode, folds it into a per-peer
// comm.Plan.
type commLink struct {
	idx  float64
	peer int
	tag  comm.Tag
	view signal.Resolved
}

// LogSink is the destination a Chunk periodically flushes probe
// samples to during RunNSteps, matching spec's optional `log: LogSink?`
// field on Chunk. A Chunk with no LogSink set simply never flushes:
// probe buffers grow until the caller reads (and thereby clears) them
// through ProbeData.
type LogSink interface {
	WriteBatch(probeKey uint64, samples []Tensor) error
}

// Chunk is one simulation process's worth of state: the signals it
// owns, the operators that mutate them each step, the probes sampling
// them, and the comm operators talking to its peers. A distributed run
// is N Chunks, one per rank, each built from the same record stream
// the network builder emits for that rank.
type Chunk struct {
	Rank int

	store    *signal.Store
	schedule Schedule
	probes   map[signal.Key]*Probe

	transport comm.Transport
	merged    bool

	sendLinks []commLink
	recvLinks []commLink
	commOps   []comm.Drainable
	barrier   *comm.Barrier

	seedables []Seedable
	callbacks map[string]Func

	log        LogSink
	flushEvery int

	dt      float64
	now     float64
	step    int
	runSeed uint64

	built bool
}

// NewChunk returns an empty Chunk for the given rank, ready to receive
// build records. dt is the simulation step size used to advance the
// chunk's clock (and thus any HostCallback that wants it) once per
// executed step. transport may be nil for a chunk with no MPI peers.
func NewChunk(rank int, dt float64, transport comm.Transport, merged bool) *Chunk {
	return &Chunk{
		Rank:      rank,
		store:     signal.NewStore(),
		probes:    make(map[signal.Key]*Probe),
		callbacks: make(map[string]Func),
		transport: transport,
		merged:    merged,
		dt:        dt,
	}
}

// RegisterHostCallback binds name to fn so a later AddOp(HostCallback)
// record naming it can be resolved. Must be called before the matching
// AddOp record is applied.
func (c *Chunk) RegisterHostCallback(name string, fn Func) {
	c.callbacks[name] = fn
}

// SetLogSink attaches sink to the chunk so that RunNSteps flushes every
// probe's buffer to it every flushEvery steps (matching spec's
// `(step_counter+1) mod FLUSH_PROBES_EVERY == 0` rule, against the
// step counter as it stands right after it is incremented for the step
// just executed), plus once more, unconditionally, after the last step
// of every RunNSteps call. flushEvery <= 0 disables the periodic flush
// but keeps the end-of-batch flush. Passing a nil sink disables both
// and reverts to flush-on-read via ProbeData.
func (c *Chunk) SetLogSink(sink LogSink, flushEvery int) {
	c.log = sink
	c.flushEvery = flushEvery
}

// AddBaseSignal installs a BaseSignal from a decoded wire record.
func (c *Chunk) AddBaseSignal(rec wire.AddSignal) error {
	if c.built {
		return &BuildError{Reason: "AddBaseSignal called after FinalizeBuild"}
	}
	if err := c.store.AddBase(signal.Key(rec.Key), rec.Label, rec.Shape1, rec.Shape2, rec.Data); err != nil {
		return &BuildError{Reason: "AddBaseSignal", Cause: err}
	}
	return nil
}

// AddProbe attaches a Probe to an existing signal.
func (c *Chunk) AddProbe(rec wire.AddProbe) error {
	if c.built {
		return &BuildError{Reason: "AddProbe called after FinalizeBuild"}
	}
	view, err := c.store.ViewFull(signal.Key(rec.SignalKey))
	if err != nil {
		return &BuildError{Reason: "AddProbe", Cause: err}
	}
	resolved, err := c.store.Resolve(view)
	if err != nil {
		return &BuildError{Reason: "AddProbe", Cause: err}
	}
	key := signal.Key(rec.ProbeKey)
	if _, exists := c.probes[key]; exists {
		return &BuildError{Reason: fmt.Sprintf("AddProbe: duplicate probe key %d", key)}
	}
	if rec.Period <= 0 {
		return &BuildError{Reason: fmt.Sprintf("AddProbe: period must be >= 1, got %d", rec.Period)}
	}
	c.probes[key] = &Probe{Key: key, Target: resolved, Period: rec.Period}
	return nil
}

func (c *Chunk) resolve(key uint64) (signal.Resolved, error) {
	view, err := c.store.ViewFull(signal.Key(key))
	if err != nil {
		return signal.Resolved{}, err
	}
	return c.store.Resolve(view)
}

// AddOp builds and schedules one operator from a decoded wire record.
// MPISend/MPIRecv records are staged, not scheduled directly, so
// FinalizeBuild can optionally fold same-peer links into one merged
// operator first.
func (c *Chunk) AddOp(rec wire.AddOp) error {
	if c.built {
		return &BuildError{Reason: "AddOp called after FinalizeBuild"}
	}
	p := rec.Params
	resolve := func(key uint64) (signal.Resolved, error) { return c.resolve(key) }

	wrap := func(err error) error {
		if err != nil {
			return &BuildError{Reason: fmt.Sprintf("AddOp(%s)", rec.Kind), Cause: err}
		}
		return nil
	}

	switch rec.Kind {
	case "Reset":
		dst, err := resolve(p.Dst)
		if err != nil {
			return wrap(err)
		}
		c.schedule.Add(&Reset{Idx: rec.Index, Dst: dst, Value: p.Value})

	case "Copy":
		dst, err := resolve(p.Dst)
		if err != nil {
			return wrap(err)
		}
		src, err := resolve(p.Src)
		if err != nil {
			return wrap(err)
		}
		c.schedule.Add(&Copy{Idx: rec.Index, Dst: dst, Src: src})

	case "DotInc":
		a, err := resolve(p.A)
		if err != nil {
			return wrap(err)
		}
		x, err := resolve(p.X)
		if err != nil {
			return wrap(err)
		}
		y, err := resolve(p.Y)
		if err != nil {
			return wrap(err)
		}
		c.schedule.Add(&DotInc{Idx: rec.Index, A: a, X: x, Y: y})

	case "ScalarDotInc":
		a, err := resolve(p.A)
		if err != nil {
			return wrap(err)
		}
		x, err := resolve(p.X)
		if err != nil {
			return wrap(err)
		}
		y, err := resolve(p.Y)
		if err != nil {
			return wrap(err)
		}
		c.schedule.Add(&ScalarDotInc{Idx: rec.Index, A: a, X: x, Y: y})

	case "ProdUpdate":
		a, err := resolve(p.A)
		if err != nil {
			return wrap(err)
		}
		x, err := resolve(p.X)
		if err != nil {
			return wrap(err)
		}
		b, err := resolve(p.B)
		if err != nil {
			return wrap(err)
		}
		y, err := resolve(p.Y)
		if err != nil {
			return wrap(err)
		}
		c.schedule.Add(&ProdUpdate{Idx: rec.Index, A: a, X: x, B: b, Y: y})

	case "ScalarProdUpdate":
		a, err := resolve(p.A)
		if err != nil {
			return wrap(err)
		}
		x, err := resolve(p.X)
		if err != nil {
			return wrap(err)
		}
		b, err := resolve(p.B)
		if err != nil {
			return wrap(err)
		}
		y, err := resolve(p.Y)
		if err != nil {
			return wrap(err)
		}
		c.schedule.Add(&ScalarProdUpdate{Idx: rec.Index, A: a, X: x, B: b, Y: y, ScalarB: p.ScalarB})

	case "Filter":
		in, err := resolve(p.Input)
		if err != nil {
			return wrap(err)
		}
		out, err := resolve(p.Output)
		if err != nil {
			return wrap(err)
		}
		c.schedule.Add(&Filter{Idx: rec.Index, Input: in, Output: out, Numer: p.Numer, Denom: p.Denom})

	case "SimLIF":
		j, err := resolve(p.J)
		if err != nil {
			return wrap(err)
		}
		out, err := resolve(p.Out)
		if err != nil {
			return wrap(err)
		}
		c.schedule.Add(&SimLIF{Idx: rec.Index, N: p.N, TauRC: p.TauRC, TauRef: p.TauRef, Dt: p.Dt, J: j, Out: out})

	case "SimLIFRate":
		j, err := resolve(p.J)
		if err != nil {
			return wrap(err)
		}
		out, err := resolve(p.Out)
		if err != nil {
			return wrap(err)
		}
		c.schedule.Add(&SimLIFRate{Idx: rec.Index, N: p.N, TauRC: p.TauRC, TauRef: p.TauRef, Dt: p.Dt, J: j, Out: out})

	case "SimLIFRateNoisy":
		j, err := resolve(p.J)
		if err != nil {
			return wrap(err)
		}
		out, err := resolve(p.Out)
		if err != nil {
			return wrap(err)
		}
		op := &SimLIFRateNoisy{
			Idx: rec.Index, N: p.N, TauRC: p.TauRC, TauRef: p.TauRef, Dt: p.Dt,
			Amplitude: p.Amplitude, RngKey: p.RngKey, J: j, Out: out,
		}
		c.schedule.Add(op)
		c.seedables = append(c.seedables, op)

	case "SpikingRectifiedLinear":
		j, err := resolve(p.J)
		if err != nil {
			return wrap(err)
		}
		out, err := resolve(p.Out)
		if err != nil {
			return wrap(err)
		}
		op := &SpikingRectifiedLinear{Idx: rec.Index, N: p.N, Dt: p.Dt, RngKey: p.RngKey, J: j, Out: out}
		c.schedule.Add(op)
		c.seedables = append(c.seedables, op)

	case "HostCallback":
		fn, ok := c.callbacks[p.Name]
		if !ok {
			return wrap(fmt.Errorf("no host callback registered under name %q", p.Name))
		}
		op := &HostCallback{Idx: rec.Index, Fn: fn, WantTime: p.WantTime, HasInput: p.HasInput}
		if p.HasInput {
			in, err := resolve(p.Input)
			if err != nil {
				return wrap(err)
			}
			op.Input = in
		}
		out, err := resolve(p.Output)
		if err != nil {
			return wrap(err)
		}
		op.Output = out
		op.BindClock(&c.now)
		c.schedule.Add(op)

	case "MPISend":
		content, err := resolve(p.Y)
		if err != nil {
			return wrap(err)
		}
		c.sendLinks = append(c.sendLinks, commLink{idx: rec.Index, peer: p.Peer, tag: comm.Tag(p.Tag), view: content})

	case "MPIRecv":
		content, err := resolve(p.Y)
		if err != nil {
			return wrap(err)
		}
		c.recvLinks = append(c.recvLinks, commLink{idx: rec.Index, peer: p.Peer, tag: comm.Tag(p.Tag), view: content})

	default:
		return &BuildError{Reason: fmt.Sprintf("AddOp: unknown operator kind %q", rec.Kind)}
	}
	return nil
}

// FinalizeBuild closes the build phase: it materializes the staged MPI
// links (merging per-peer links into one comm.Plan each when merged
// mode is on), installs a terminal collective barrier, sorts the
// schedule, and seeds every Seedable operator from seed. No further
// AddBaseSignal/AddOp/AddProbe calls are valid afterward.
func (c *Chunk) FinalizeBuild(seed uint64, barrierPeriod int) error {
	if c.built {
		return &BuildError{Reason: "FinalizeBuild called twice"}
	}
	if err := c.installCommLinks(); err != nil {
		return err
	}
	if c.transport != nil && barrierPeriod > 0 {
		c.barrier = &comm.Barrier{Idx: maxIndex(&c.schedule) + 1, Period: barrierPeriod, Transport: c.transport}
		c.schedule.Add(c.barrier)
	}
	c.schedule.Sort()
	c.runSeed = seed
	for _, s := range c.seedables {
		s.Seed(seed)
	}
	c.built = true
	return nil
}

func maxIndex(s *Schedule) float64 {
	max := 0.0
	for _, op := range s.Operators() {
		if op.Index() > max {
			max = op.Index()
		}
	}
	return max
}

func (c *Chunk) installCommLinks() error {
	if len(c.sendLinks) == 0 && len(c.recvLinks) == 0 {
		return nil
	}
	if c.transport == nil {
		return &BuildError{Reason: "chunk has MPISend/MPIRecv records but no transport configured"}
	}
	if !c.merged {
		for _, l := range c.sendLinks {
			op := &comm.Send{Idx: l.idx, Dst: l.peer, Tag: l.tag, Content: l.view, Transport: c.transport}
			c.schedule.Add(op)
			c.commOps = append(c.commOps, op)
		}
		for _, l := range c.recvLinks {
			op := &comm.Recv{Idx: l.idx, Src: l.peer, Tag: l.tag, Content: l.view, Transport: c.transport}
			c.schedule.Add(op)
			c.commOps = append(c.commOps, op)
		}
		return nil
	}
	sendPlan, sendIdx, err := mergeLinks(c.sendLinks)
	if err != nil {
		return &BuildError{Reason: "merge send links", Cause: err}
	}
	for peer, views := range sendPlan {
		plan, err := comm.NewPlan(peer, views)
		if err != nil {
			return &BuildError{Reason: "comm.NewPlan(send)", Cause: err}
		}
		op := &comm.MergedSend{Idx: sendIdx[peer], Plan: plan, Transport: c.transport, Tag: mergedTag}
		c.schedule.Add(op)
		c.commOps = append(c.commOps, op)
	}
	recvPlan, recvIdx, err := mergeLinks(c.recvLinks)
	if err != nil {
		return &BuildError{Reason: "merge recv links", Cause: err}
	}
	for peer, views := range recvPlan {
		plan, err := comm.NewPlan(peer, views)
		if err != nil {
			return &BuildError{Reason: "comm.NewPlan(recv)", Cause: err}
		}
		op := &comm.MergedRecv{Idx: recvIdx[peer], Plan: plan, Transport: c.transport, Tag: mergedTag}
		c.schedule.Add(op)
		c.commOps = append(c.commOps, op)
	}
	return nil
}

// mergedTag is the reserved tag merged sends/receives ride under,
// distinct from any user-assigned per-channel tag and from comm.Net's
// own reserved barrier tag (^Tag(0)).
const mergedTag comm.Tag = ^comm.Tag(0) - 1

func mergeLinks(links []commLink) (map[int]map[comm.Tag]signal.Resolved, map[int]float64, error) {
	byPeer := make(map[int]map[comm.Tag]signal.Resolved)
	minIdx := make(map[int]float64)
	for _, l := range links {
		if _, ok := byPeer[l.peer]; !ok {
			byPeer[l.peer] = make(map[comm.Tag]signal.Resolved)
			minIdx[l.peer] = l.idx
		}
		if _, dup := byPeer[l.peer][l.tag]; dup {
			return nil, nil, fmt.Errorf("duplicate tag %d for peer %d", l.tag, l.peer)
		}
		byPeer[l.peer][l.tag] = l.view
		if l.idx < minIdx[l.peer] {
			minIdx[l.peer] = l.idx
		}
	}
	return byPeer, minIdx, nil
}

// RunNSteps steps the schedule k times, sampling every probe after each
// step and advancing the chunk clock by dt. Every flushEvery steps (if
// a LogSink is attached) the probe buffers are flushed to it, and they
// are flushed once more, unconditionally, after the final step. After
// the final step every outstanding comm request is drained so no
// send/recv is left in flight when the caller inspects probe data.
//
// A flush failure is reported as an *IOError but does not abort the
// run: the steps already executed stand, and the sink is detached so
// later steps fall back to flush-on-read via ProbeData.
func (c *Chunk) RunNSteps(k int) error {
	if !c.built {
		return &RuntimeError{Reason: "RunNSteps called before FinalizeBuild"}
	}
	var flushErr error
	for i := 0; i < k; i++ {
		if err := c.schedule.StepAll(); err != nil {
			return fmt.Errorf("chunk %d: step %d: %w", c.Rank, c.step, err)
		}
		c.step++
		c.now += c.dt
		for _, p := range c.probes {
			p.Sample(c.step)
		}
		if c.log != nil && c.flushEvery > 0 && c.step%c.flushEvery == 0 {
			if err := c.flushProbes(); err != nil && flushErr == nil {
				flushErr = err
				c.log = nil
			}
		}
	}
	for _, op := range c.commOps {
		if err := op.Drain(); err != nil {
			return &RuntimeError{Reason: fmt.Sprintf("chunk %d: draining comm operators", c.Rank), Cause: err}
		}
	}
	if c.log != nil {
		if err := c.flushProbes(); err != nil && flushErr == nil {
			flushErr = err
			c.log = nil
		}
	}
	return flushErr
}

// flushProbes writes every probe's currently buffered samples to the
// attached LogSink and clears them, skipping probes with nothing
// buffered. It is a no-op if no LogSink is attached.
func (c *Chunk) flushProbes() error {
	if c.log == nil {
		return nil
	}
	for _, key := range c.ProbeKeys() {
		data, err := c.ProbeData(key)
		if err != nil {
			return &IOError{Reason: fmt.Sprintf("chunk %d: flush probe %d", c.Rank, key), Cause: err}
		}
		if len(data) == 0 {
			continue
		}
		if err := c.log.WriteBatch(uint64(key), data); err != nil {
			return &IOError{Reason: fmt.Sprintf("chunk %d: log sink write for probe %d", c.Rank, key), Cause: err}
		}
	}
	return nil
}

// Reset restores every signal to its build-time initial value, clears
// every probe buffer, rearms every comm operator to its pristine
// first-call state, and reseeds every Seedable operator, all under a
// possibly new seed.
func (c *Chunk) Reset(seed uint64) {
	c.store.ResetAll()
	for _, p := range c.probes {
		p.Clear(true)
	}
	for _, op := range c.commOps {
		op.Rearm()
	}
	c.step = 0
	c.now = 0
	c.runSeed = seed
	for _, s := range c.seedables {
		s.Seed(seed)
	}
}

// ProbeData returns the buffered samples for a probe and clears the
// buffer, matching the flush-on-read contract the log sink relies on.
func (c *Chunk) ProbeData(key signal.Key) ([]Tensor, error) {
	p, ok := c.probes[key]
	if !ok {
		return nil, &RuntimeError{Reason: fmt.Sprintf("ProbeData: unknown probe key %d", key)}
	}
	return p.Flush(), nil
}

// ProbeKeys returns every probe key currently attached, sorted for
// deterministic iteration order (used by the log sink to decide flush
// order).
func (c *Chunk) ProbeKeys() []signal.Key {
	out := make([]signal.Key, 0, len(c.probes))
	for k := range c.probes {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Now returns the chunk's current simulation time.
func (c *Chunk) Now() float64 { return c.now }

// Step returns the number of steps run since the last Reset.
func (c *Chunk) Step() int { return c.step }
