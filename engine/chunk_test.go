package engine

import (
	"testing"

	"github.com/e2crawfo/nengo-mpi/wire"
)

func TestChunkScalarResetAndProbe(t *testing.T) {
	c := NewChunk(0, 0.001, nil, false)

	if err := c.AddBaseSignal(wire.AddSignal{Key: 1, Label: "x", Shape1: 1, Data: []float64{0}}); err != nil {
		t.Fatalf("AddBaseSignal: %v", err)
	}
	if err := c.AddOp(wire.AddOp{Kind: "Reset", Index: 0, Params: wire.OpParams{Dst: 1, Value: 3}}); err != nil {
		t.Fatalf("AddOp: %v", err)
	}
	if err := c.AddProbe(wire.AddProbe{ProbeKey: 100, SignalKey: 1, Period: 1}); err != nil {
		t.Fatalf("AddProbe: %v", err)
	}
	if err := c.FinalizeBuild(42, 0); err != nil {
		t.Fatalf("FinalizeBuild: %v", err)
	}
	if err := c.RunNSteps(3); err != nil {
		t.Fatalf("RunNSteps: %v", err)
	}
	data, err := c.ProbeData(100)
	if err != nil {
		t.Fatalf("ProbeData: %v", err)
	}
	if len(data) != 3 {
		t.Fatalf("len(data) = %d, want 3", len(data))
	}
	for i, tensor := range data {
		if len(tensor.Data) != 1 || tensor.Data[0] != 3 {
			t.Fatalf("sample %d = %+v, want [3]", i, tensor)
		}
	}

	// A second ProbeData call must see an empty buffer: flush clears it.
	data, err = c.ProbeData(100)
	if err != nil {
		t.Fatalf("ProbeData (2nd): %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("len(data) = %d, want 0 after flush", len(data))
	}
}

func TestChunkDotIncMatrixVector(t *testing.T) {
	c := NewChunk(0, 0.001, nil, false)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(c.AddBaseSignal(wire.AddSignal{Key: 1, Label: "A", Shape1: 2, Shape2: 2, Data: []float64{1, 2, 3, 4}}))
	must(c.AddBaseSignal(wire.AddSignal{Key: 2, Label: "x", Shape1: 2, Data: []float64{1, 1}}))
	must(c.AddBaseSignal(wire.AddSignal{Key: 3, Label: "y", Shape1: 2, Data: []float64{0, 0}}))
	must(c.AddOp(wire.AddOp{Kind: "DotInc", Index: 0, Params: wire.OpParams{A: 1, X: 2, Y: 3}}))
	must(c.AddProbe(wire.AddProbe{ProbeKey: 9, SignalKey: 3, Period: 1}))
	must(c.FinalizeBuild(1, 0))
	must(c.RunNSteps(1))

	data, err := c.ProbeData(9)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1 {
		t.Fatalf("len(data) = %d, want 1", len(data))
	}
	got := data[0].Data
	want := []float64{3, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DotInc result = %v, want %v", got, want)
		}
	}
}

func TestChunkResetRestoresInitialSignalValues(t *testing.T) {
	c := NewChunk(0, 0.001, nil, false)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(c.AddBaseSignal(wire.AddSignal{Key: 1, Label: "x", Shape1: 1, Data: []float64{5}}))
	must(c.AddOp(wire.AddOp{Kind: "Reset", Index: 0, Params: wire.OpParams{Dst: 1, Value: 0}}))
	must(c.AddProbe(wire.AddProbe{ProbeKey: 1, SignalKey: 1, Period: 1}))
	must(c.FinalizeBuild(7, 0))
	must(c.RunNSteps(2))

	c.Reset(7)
	data, err := c.ProbeData(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatalf("expected cleared probe buffer after reset, got %d samples", len(data))
	}
	if c.Step() != 0 {
		t.Fatalf("Step() = %d, want 0 after reset", c.Step())
	}
	base, err := c.store.Base(1)
	if err != nil {
		t.Fatal(err)
	}
	if base.Data[0] != 5 {
		t.Fatalf("signal after reset = %v, want initial value 5", base.Data[0])
	}
}

// TestChunkSimLIFFires drives a single LIF neuron with a constant
// superthreshold input current until it spikes, and checks the spike
// sample carries the expected amplitude (1/dt) while every other
// sample is 0.
func TestChunkSimLIFFires(t *testing.T) {
	c := NewChunk(0, 0.001, nil, false)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(c.AddBaseSignal(wire.AddSignal{Key: 1, Label: "J", Shape1: 1, Data: []float64{2.0}}))
	must(c.AddBaseSignal(wire.AddSignal{Key: 2, Label: "out", Shape1: 1, Data: []float64{0}}))
	must(c.AddOp(wire.AddOp{Kind: "SimLIF", Index: 0, Params: wire.OpParams{
		J: 1, Out: 2, N: 1, TauRC: 0.02, TauRef: 0.002, Dt: 0.001,
	}}))
	must(c.AddProbe(wire.AddProbe{ProbeKey: 1, SignalKey: 2, Period: 1}))
	must(c.FinalizeBuild(1, 0))
	must(c.RunNSteps(50))

	data, err := c.ProbeData(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 50 {
		t.Fatalf("len(data) = %d, want 50", len(data))
	}
	spikes := 0
	for i, tensor := range data {
		switch tensor.Data[0] {
		case 0:
		case 1000:
			spikes++
		default:
			t.Fatalf("sample %d = %v, want 0 or 1000", i, tensor.Data)
		}
	}
	if spikes == 0 {
		t.Fatalf("no spike observed over 50 steps")
	}
}

// fakeLogSink records every WriteBatch call it receives, for asserting
// on flush cadence without involving the real logsink package.
type fakeLogSink struct {
	batches [][]Tensor
}

func (f *fakeLogSink) WriteBatch(probeKey uint64, samples []Tensor) error {
	cp := make([]Tensor, len(samples))
	copy(cp, samples)
	f.batches = append(f.batches, cp)
	return nil
}

// TestChunkLogSinkFlushBoundary exercises the FLUSH_PROBES_EVERY
// cadence: period 1, flushEvery 4, run(10) must flush twice mid-run (at
// steps 4 and 8) plus once more at the end of the batch (steps 9-10),
// and the batches must together account for all 10 samples.
func TestChunkLogSinkFlushBoundary(t *testing.T) {
	c := NewChunk(0, 0.001, nil, false)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(c.AddBaseSignal(wire.AddSignal{Key: 1, Label: "x", Shape1: 1, Data: []float64{0}}))
	must(c.AddOp(wire.AddOp{Kind: "Reset", Index: 0, Params: wire.OpParams{Dst: 1, Value: 9}}))
	must(c.AddProbe(wire.AddProbe{ProbeKey: 1, SignalKey: 1, Period: 1}))

	sink := &fakeLogSink{}
	c.SetLogSink(sink, 4)

	must(c.FinalizeBuild(1, 0))
	must(c.RunNSteps(10))

	if len(sink.batches) != 3 {
		t.Fatalf("len(sink.batches) = %d, want 3 (two mid-run flushes, one at end)", len(sink.batches))
	}
	wantLens := []int{4, 4, 2}
	total := 0
	for i, b := range sink.batches {
		if len(b) != wantLens[i] {
			t.Fatalf("batch %d has %d samples, want %d", i, len(b), wantLens[i])
		}
		total += len(b)
	}
	if total != 10 {
		t.Fatalf("total flushed samples = %d, want 10", total)
	}

	// The probe's own buffer is already clear: everything was flushed.
	data, err := c.ProbeData(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatalf("ProbeData after a fully-flushed run = %d samples, want 0", len(data))
	}
}
