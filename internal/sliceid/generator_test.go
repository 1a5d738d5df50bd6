package sliceid

import "testing"

func TestFirstIdentifier(t *testing.T) {
	gen := NewGenerator()
	if got := gen.Next(); got != "aaaaaaaaaa" {
		t.Errorf("Expected first slice id 'aaaaaaaaaa', got %q", got)
	}
}

func TestLeastSignificantDigitAdvancesFirst(t *testing.T) {
	gen := NewGenerator()
	gen.Next() // aaaaaaaaaa

	expected := []string{"aaaaaaaaab", "aaaaaaaaac", "aaaaaaaaad"}
	for _, want := range expected {
		if got := gen.Next(); got != want {
			t.Errorf("Expected slice id %q, got %q", want, got)
		}
	}
}

func TestCarryIntoNextDigit(t *testing.T) {
	gen := NewGenerator()

	// 26 calls exhaust the last digit; the 27th must carry.
	var last string
	for i := 0; i < 26; i++ {
		last = gen.Next()
	}
	if last != "aaaaaaaaaz" {
		t.Errorf("Expected 26th slice id 'aaaaaaaaaz', got %q", last)
	}

	if got := gen.Next(); got != "aaaaaaaaba" {
		t.Errorf("Expected carry to 'aaaaaaaaba', got %q", got)
	}
}

func TestSequenceDeterministicAndStrictlyIncreasing(t *testing.T) {
	first := NewGenerator()
	second := NewGenerator()

	prev := ""
	for i := 0; i < 1000; i++ {
		a := first.Next()
		b := second.Next()
		if a != b {
			t.Fatalf("Sequences diverged at call %d: %q vs %q", i, a, b)
		}
		if a <= prev {
			t.Fatalf("Sequence not strictly increasing at call %d: %q after %q", i, a, prev)
		}
		prev = a
	}
}

func TestFixedWidth(t *testing.T) {
	gen := NewGenerator()
	for i := 0; i < 1000; i++ {
		if id := gen.Next(); len(id) != 10 {
			t.Fatalf("Expected 10-character slice id, got %q", id)
		}
	}
}
