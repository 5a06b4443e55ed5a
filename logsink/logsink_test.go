package logsink

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/e2crawfo/nengo-mpi/engine"
)

func TestFileSinkWriteAndReadBlockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probes.log")

	codec, err := NewZstdCodec()
	if err != nil {
		t.Fatalf("NewZstdCodec: %v", err)
	}
	sink, err := NewFileSink(path, codec)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	samples := []engine.Tensor{
		{Shape1: 2, Data: []float64{1, 2}},
		{Shape1: 2, Data: []float64{3, 4}},
	}
	if err := sink.WriteBatch(42, samples); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	codecs, err := DefaultCodecs()
	if err != nil {
		t.Fatalf("DefaultCodecs: %v", err)
	}
	block, err := ReadBlock(bytes.NewReader(raw), codecs)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if block.ProbeKey != 42 {
		t.Fatalf("ProbeKey = %d, want 42", block.ProbeKey)
	}
	if len(block.Samples) != 2 {
		t.Fatalf("len(Samples) = %d, want 2", len(block.Samples))
	}
	if block.Samples[0][0] != 1 || block.Samples[0][1] != 2 || block.Samples[1][0] != 3 || block.Samples[1][1] != 4 {
		t.Fatalf("decoded samples = %v", block.Samples)
	}
}

func TestReadBlockDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probes.log")
	codec := NewS2Codec()
	sink, err := NewFileSink(path, codec)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if err := sink.WriteBatch(1, []engine.Tensor{{Shape1: 1, Data: []float64{9}}}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[len(raw)-1] ^= 0xff

	codecs, err := DefaultCodecs()
	if err != nil {
		t.Fatalf("DefaultCodecs: %v", err)
	}
	if _, err := ReadBlock(bytes.NewReader(raw), codecs); err == nil {
		t.Fatal("expected corruption error, got nil")
	}
}
