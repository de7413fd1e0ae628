package ports

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		s, e, ws, we int
	}{
		{100, 200, 100, 200},
		{200, 100, 100, 200},
		{-5, 70000, 1, 65535},
		{443, 443, 443, 443},
	}
	for _, c := range cases {
		s, e := Normalize(c.s, c.e)
		if s != c.ws || e != c.we {
			t.Fatalf("Normalize(%d,%d) = (%d,%d), want (%d,%d)", c.s, c.e, s, e, c.ws, c.we)
		}
	}
}

func TestPickInvertedRangeStaysInBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		p, err := Pick(nil, 9000, 8000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p < 8000 || p > 9000 {
			t.Fatalf("port %d outside normalized range", p)
		}
	}
}

func TestPickSkipsUsed(t *testing.T) {
	used := map[int]bool{443: true, 444: true}
	p, err := Pick(used, 443, 445)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != 445 {
		t.Fatalf("got %d, want 445", p)
	}
}

func TestPickExhaustion(t *testing.T) {
	used := map[int]bool{8080: true}
	_, err := Pick(used, 8080, 8080)
	if !errors.Is(err, ErrPortExhaustion) {
		t.Fatalf("expected ErrPortExhaustion, got %v", err)
	}
}
