package wire

import (
	"bytes"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	wantSignal := AddSignal{Key: 1, Label: "x", Shape1: 2, Shape2: 1, Data: []float64{1, 2}}
	wantOp := AddOp{Kind: "Reset", Index: 0.5, Params: OpParams{Dst: 1, Value: 0}}
	wantProbe := AddProbe{ProbeKey: 9, SignalKey: 1, Period: 10}

	if err := w.WriteAddSignal(wantSignal); err != nil {
		t.Fatalf("WriteAddSignal: %v", err)
	}
	if err := w.WriteAddOp(wantOp); err != nil {
		t.Fatalf("WriteAddOp: %v", err)
	}
	if err := w.WriteAddProbe(wantProbe); err != nil {
		t.Fatalf("WriteAddProbe: %v", err)
	}
	if err := w.WriteStop(); err != nil {
		t.Fatalf("WriteStop: %v", err)
	}

	r := NewReader(&buf)

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next (signal): %v", err)
	}
	if rec.Flag != FlagAddSignal {
		t.Fatalf("flag = %v, want add_signal", rec.Flag)
	}
	gotSignal, err := rec.DecodeAddSignal()
	if err != nil {
		t.Fatalf("DecodeAddSignal: %v", err)
	}
	if gotSignal.Key != wantSignal.Key || gotSignal.Label != wantSignal.Label || len(gotSignal.Data) != 2 {
		t.Fatalf("AddSignal mismatch: got %+v", gotSignal)
	}

	rec, err = r.Next()
	if err != nil {
		t.Fatalf("Next (op): %v", err)
	}
	if rec.Flag != FlagAddOp {
		t.Fatalf("flag = %v, want add_op", rec.Flag)
	}
	gotOp, err := rec.DecodeAddOp()
	if err != nil {
		t.Fatalf("DecodeAddOp: %v", err)
	}
	if gotOp.Kind != "Reset" || gotOp.Index != 0.5 {
		t.Fatalf("AddOp mismatch: got %+v", gotOp)
	}

	rec, err = r.Next()
	if err != nil {
		t.Fatalf("Next (probe): %v", err)
	}
	if rec.Flag != FlagAddProbe {
		t.Fatalf("flag = %v, want add_probe", rec.Flag)
	}
	gotProbe, err := rec.DecodeAddProbe()
	if err != nil {
		t.Fatalf("DecodeAddProbe: %v", err)
	}
	if gotProbe != wantProbe {
		t.Fatalf("AddProbe mismatch: got %+v want %+v", gotProbe, wantProbe)
	}

	rec, err = r.Next()
	if err != nil {
		t.Fatalf("Next (stop): %v", err)
	}
	if rec.Flag != FlagStop {
		t.Fatalf("flag = %v, want stop", rec.Flag)
	}
}

func TestReaderDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteAddProbe(AddProbe{ProbeKey: 1, SignalKey: 2, Period: 1}); err != nil {
		t.Fatalf("WriteAddProbe: %v", err)
	}

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff // flip a payload byte without touching the checksum

	r := NewReader(bytes.NewReader(raw))
	if _, err := r.Next(); err == nil {
		t.Fatal("expected corruption error, got nil")
	}
}
