package bloom

import (
	"fmt"
	"testing"
)

func TestFilter_AddAndMightContain(t *testing.T) {
	f := NewFactory().New(100, 0.01)
	keys := []string{"example.com", "foo.org", "news.ycombinator.com"}
	for _, k := range keys {
		f.Add([]byte(k))
	}
	for _, k := range keys {
		if !f.MightContain([]byte(k)) {
			t.Fatalf("expected %q to be present (no false negatives)", k)
		}
	}
}

func TestFactory_InvalidParamsFallBack(t *testing.T) {
	for _, tc := range []struct {
		capacity uint64
		fp       float64
	}{
		{0, 0.01},
		{10, 0},
		{10, 1.5},
		{10, -1},
	} {
		f := NewFactory().New(tc.capacity, tc.fp)
		f.Add([]byte("a.com"))
		if !f.MightContain([]byte("a.com")) {
			t.Fatalf("capacity=%d fp=%v: expected key present", tc.capacity, tc.fp)
		}
	}
}

func TestFilter_FalsePositiveRateIsBounded(t *testing.T) {
	const n = 1000
	f := NewFactory().New(n, 0.01)
	for i := 0; i < n; i++ {
		f.Add([]byte(fmt.Sprintf("host-%d.example", i)))
	}
	fp := 0
	for i := 0; i < n; i++ {
		if f.MightContain([]byte(fmt.Sprintf("absent-%d.test", i))) {
			fp++
		}
	}
	// 1% target; allow generous slack to keep the test stable.
	if fp > n/20 {
		t.Fatalf("false positives %d exceed 5%% of %d", fp, n)
	}
}
