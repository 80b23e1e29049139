package position

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

func TestAllocateEmptyContainer(t *testing.T) {
	key, err := Allocate("", "")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if key != "i" {
		t.Fatalf("expected default midpoint key, got %q", key)
	}
	if err := Validate(key); err != nil {
		t.Fatalf("invalid key: %v", err)
	}
}

func TestAllocateBetween(t *testing.T) {
	cases := []struct{ before, after string }{
		{"1", "2"},
		{"1", "11"},
		{"a", "b"},
		{"az", "b"},
		{"0i", "0j"},
		{"z", "z1"},
		{"1y", "2"},
		{"1zi", "2"},
	}
	for _, tc := range cases {
		key, err := Allocate(tc.before, tc.after)
		if err != nil {
			t.Fatalf("allocate(%q, %q): %v", tc.before, tc.after, err)
		}
		if !(tc.before < key && key < tc.after) {
			t.Fatalf("allocate(%q, %q) = %q, not strictly between", tc.before, tc.after, key)
		}
		if err := Validate(key); err != nil {
			t.Fatalf("allocate(%q, %q) = %q: %v", tc.before, tc.after, key, err)
		}
	}
}

func TestAllocateBounds(t *testing.T) {
	above, err := Allocate("i", "")
	if err != nil {
		t.Fatalf("allocate above: %v", err)
	}
	if above <= "i" {
		t.Fatalf("expected key above %q, got %q", "i", above)
	}

	below, err := Allocate("", "i")
	if err != nil {
		t.Fatalf("allocate below: %v", err)
	}
	if below >= "i" {
		t.Fatalf("expected key below %q, got %q", "i", below)
	}
}

func TestAllocateOrderingConflict(t *testing.T) {
	for _, tc := range []struct{ before, after string }{
		{"b", "a"},
		{"a", "a"},
		{"a1", "a"},
	} {
		if _, err := Allocate(tc.before, tc.after); !errors.Is(err, domain.ErrOrderingConflict) {
			t.Fatalf("allocate(%q, %q): expected ordering conflict, got %v", tc.before, tc.after, err)
		}
	}
}

func TestAllocateRejectsMalformedKeys(t *testing.T) {
	for _, bad := range []string{"A", "a!", "10", "0"} {
		if _, err := Allocate(bad, ""); err == nil {
			t.Fatalf("expected validation error for %q", bad)
		}
	}
}

// Repeated insertion at the head, tail and midpoint must keep the sequence
// strictly ordered even as keys extend in precision.
func TestAllocateAdversarialMidpoint(t *testing.T) {
	lo, hi := "", ""
	var prev string
	for i := 0; i < 400; i++ {
		key, err := Allocate(lo, hi)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if err := Validate(key); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if lo != "" && key <= lo {
			t.Fatalf("iteration %d: %q not above %q", i, key, lo)
		}
		if hi != "" && key >= hi {
			t.Fatalf("iteration %d: %q not below %q", i, key, hi)
		}
		// Alternate squeezing from both sides of the previous key.
		if i%2 == 0 {
			lo = key
		} else {
			hi = key
		}
		prev = key
	}
	if !Overlong(prev) {
		t.Fatalf("expected key to pass compaction threshold, got %d digits", len(prev))
	}
}

func TestRandomInsertionsStayOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	keys := []string{}
	for i := 0; i < 500; i++ {
		idx := rng.Intn(len(keys) + 1)
		before, after := "", ""
		if idx > 0 {
			before = keys[idx-1]
		}
		if idx < len(keys) {
			after = keys[idx]
		}
		key, err := Allocate(before, after)
		if err != nil {
			t.Fatalf("insert %d between %q and %q: %v", i, before, after, err)
		}
		keys = append(keys[:idx], append([]string{key}, keys[idx:]...)...)
	}
	if !sort.StringsAreSorted(keys) {
		t.Fatal("keys lost total order")
	}
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			t.Fatalf("duplicate key %q", k)
		}
		seen[k] = struct{}{}
	}
}

func TestSpread(t *testing.T) {
	for _, n := range []int{1, 2, 35, 36, 500} {
		keys := Spread(n)
		if len(keys) != n {
			t.Fatalf("spread(%d): got %d keys", n, len(keys))
		}
		for i, k := range keys {
			if err := Validate(k); err != nil {
				t.Fatalf("spread(%d)[%d]: %v", n, i, err)
			}
			if i > 0 && keys[i-1] >= k {
				t.Fatalf("spread(%d) not ascending at %d: %q >= %q", n, i, keys[i-1], k)
			}
		}
	}
	if Spread(0) != nil {
		t.Fatal("spread(0) should be nil")
	}
}
