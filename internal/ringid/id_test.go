package ringid

import "testing"

func TestSpaceHashIsWithinRange(t *testing.T) {
	sp, err := NewSpace(8)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	id := sp.Hash("127.0.0.1:5000")
	if err := sp.IsValidID(id); err != nil {
		t.Fatalf("Hash produced invalid id: %v", err)
	}
}

func TestBetweenWholeRingWhenEqual(t *testing.T) {
	sp, _ := NewSpace(8)
	a := sp.FromUint64(42)

	cases := []ID{sp.Zero(), sp.FromUint64(42), sp.FromUint64(255)}
	for _, x := range cases {
		if !x.Between(a, a) {
			t.Errorf("Between(%v, a=%v, b=%v) = false, want true (a==b covers whole ring)", x, a, a)
		}
	}
}

func TestBetweenLinearInterval(t *testing.T) {
	sp, _ := NewSpace(8)
	a := sp.FromUint64(10)
	b := sp.FromUint64(20)

	tests := []struct {
		x    uint64
		want bool
	}{
		{9, false},
		{10, false}, // left boundary excluded
		{11, true},
		{20, true}, // right boundary included
		{21, false},
	}
	for _, tt := range tests {
		x := sp.FromUint64(tt.x)
		if got := x.Between(a, b); got != tt.want {
			t.Errorf("Between(%d, 10, 20) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestBetweenWrapAroundInterval(t *testing.T) {
	sp, _ := NewSpace(8)
	a := sp.FromUint64(250)
	b := sp.FromUint64(5)

	tests := []struct {
		x    uint64
		want bool
	}{
		{251, true},
		{255, true},
		{0, true},
		{5, true},
		{6, false},
		{250, false},
	}
	for _, tt := range tests {
		x := sp.FromUint64(tt.x)
		if got := x.Between(a, b); got != tt.want {
			t.Errorf("Between(%d, 250, 5) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestFromHexStringRoundTrip(t *testing.T) {
	sp, _ := NewSpace(8)
	id := sp.FromUint64(171) // 0xAB
	got, err := sp.FromHexString(id.String())
	if err != nil {
		t.Fatalf("FromHexString: %v", err)
	}
	if !got.Equal(id) {
		t.Errorf("round trip mismatch: got %v want %v", got, id)
	}
}

func TestFromHexStringRejectsOutOfRange(t *testing.T) {
	sp, _ := NewSpace(4) // 4-bit space packed into one byte
	if _, err := sp.FromHexString("ff"); err == nil {
		t.Errorf("expected error for value exceeding 4-bit space, got nil")
	}
}
