package rank

import (
	"context"
	"fmt"
	"testing"
)

func TestCountNetworkBatchesFrontier(t *testing.T) {
	// Root with 120 direct children forces multiple batched fetches.
	children := map[string][]string{}
	for i := 0; i < 120; i++ {
		children["root"] = append(children["root"], fmt.Sprintf("u%03d", i))
	}

	calls := 0
	count, err := CountNetwork(context.Background(), "root", func(ctx context.Context, parents []string) ([]string, error) {
		calls++
		if len(parents) > censusBatchSize {
			t.Fatalf("batch of %d exceeds limit %d", len(parents), censusBatchSize)
		}
		var out []string
		for _, p := range parents {
			out = append(out, children[p]...)
		}
		return out, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 120 {
		t.Fatalf("expected 120 descendants, got %d", count)
	}
	if calls < 3 {
		t.Fatalf("expected batched traversal, got %d fetches", calls)
	}
}

func TestCountNetworkTerminatesOnCycle(t *testing.T) {
	// a -> b -> a violates the forest invariant; the walk must still stop.
	children := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}
	count, err := CountNetwork(context.Background(), "a", func(ctx context.Context, parents []string) ([]string, error) {
		var out []string
		for _, p := range parents {
			out = append(out, children[p]...)
		}
		return out, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 (root excluded, dedup applied), got %d", count)
	}
}
