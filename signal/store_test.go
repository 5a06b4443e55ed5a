package signal

import "testing"

func TestStoreAddBaseDuplicateKeyFails(t *testing.T) {
	s := NewStore()
	if err := s.AddBase(1, "x", 1, 0, []float64{0}); err != nil {
		t.Fatalf("AddBase: %v", err)
	}
	if err := s.AddBase(1, "y", 1, 0, []float64{0}); err == nil {
		t.Fatal("expected duplicate key error, got nil")
	}
}

func TestStoreResolveFullView(t *testing.T) {
	s := NewStore()
	if err := s.AddBase(1, "m", 2, 3, []float64{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("AddBase: %v", err)
	}
	v, err := s.ViewFull(1)
	if err != nil {
		t.Fatalf("ViewFull: %v", err)
	}
	r, err := s.Resolve(v)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.At2(1, 2) != 6 {
		t.Fatalf("At2(1,2) = %v, want 6", r.At2(1, 2))
	}
	row := r.RowSlice(1, 3)
	want := []float64{4, 5, 6}
	for i := range want {
		if row[i] != want[i] {
			t.Fatalf("RowSlice(1) = %v, want %v", row, want)
		}
	}
}

func TestStoreViewFromSpecRejectsOutOfRange(t *testing.T) {
	s := NewStore()
	if err := s.AddBase(1, "v", 4, 0, []float64{0, 0, 0, 0}); err != nil {
		t.Fatalf("AddBase: %v", err)
	}
	_, err := s.ViewFromSpec(Spec{BaseKey: 1, NDim: 1, Shape1: 5, Stride1: 1})
	if err == nil {
		t.Fatal("expected out-of-range error, got nil")
	}
}

func TestStoreResetAllRestoresInitialValues(t *testing.T) {
	s := NewStore()
	if err := s.AddBase(1, "x", 2, 0, []float64{1, 2}); err != nil {
		t.Fatalf("AddBase: %v", err)
	}
	b, err := s.Base(1)
	if err != nil {
		t.Fatalf("Base: %v", err)
	}
	b.Data[0] = 99
	b.Data[1] = 99
	s.ResetAll()
	if b.Data[0] != 1 || b.Data[1] != 2 {
		t.Fatalf("ResetAll did not restore values: got %v", b.Data)
	}
}
