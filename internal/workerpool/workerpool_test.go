package workerpool

import (
	"sync/atomic"
	"testing"
)

func TestMapPreservesOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1, 0, 9, 8, 7, 6}
	results := Map(items, 4, 16, func(n int) int { return n * n })
	if len(results) != len(items) {
		t.Fatalf("got %d results, want %d", len(results), len(items))
	}
	for i, r := range results {
		if r.Item != items[i] {
			t.Errorf("result[%d].Item = %d, want %d", i, r.Item, items[i])
		}
		if r.Value != items[i]*items[i] {
			t.Errorf("result[%d].Value = %d, want %d", i, r.Value, items[i]*items[i])
		}
	}
}

func TestMapSequentialFallback(t *testing.T) {
	items := []int{1, 2, 3}
	results := Map(items, 1, 1, func(n int) int { return n + 1 })
	for i, r := range results {
		if r.Value != items[i]+1 {
			t.Errorf("sequential result[%d] = %d, want %d", i, r.Value, items[i]+1)
		}
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	var current, peak int64
	items := make([]int, 200)
	results := Map(items, 4, 8, func(n int) int {
		c := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if c <= p || atomic.CompareAndSwapInt64(&peak, p, c) {
				break
			}
		}
		atomic.AddInt64(&current, -1)
		return n
	})
	if len(results) != len(items) {
		t.Fatalf("got %d results, want %d", len(results), len(items))
	}
	if peak > 8 {
		t.Errorf("peak in-flight %d exceeded bound 8", peak)
	}
}

func TestMapEmpty(t *testing.T) {
	if r := Map[int, int](nil, 4, 8, func(n int) int { return n }); r != nil {
		t.Errorf("expected nil for empty input, got %v", r)
	}
}
