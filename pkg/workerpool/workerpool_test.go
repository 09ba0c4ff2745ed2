package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestProcessHandlesAllItems(t *testing.T) {
	t.Parallel()

	var sum int64
	err := Process(context.Background(), 3, []int{1, 2, 3, 4, 5}, func(_ context.Context, v int) error {
		atomic.AddInt64(&sum, int64(v))
		return nil
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if sum != 15 {
		t.Fatalf("processed sum = %d, want 15", sum)
	}
}

func TestProcessStopsOnFirstError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var handled int64
	items := make([]int, 1000)
	for i := range items {
		items[i] = i
	}

	err := Process(context.Background(), 2, items, func(ctx context.Context, v int) error {
		if v == 3 {
			return boom
		}
		atomic.AddInt64(&handled, 1)
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Process() error = %v, want %v", err, boom)
	}
	if handled == int64(len(items)) {
		t.Fatal("expected the pool to stop before processing every item")
	}
}

func TestProcessHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Process(ctx, 2, []int{1, 2, 3}, func(context.Context, int) error {
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Process() error = %v, want context.Canceled", err)
	}
}

func TestProcessZeroWorkersDefaultsToOne(t *testing.T) {
	t.Parallel()

	var count int64
	err := Process(context.Background(), 0, []string{"a", "b"}, func(_ context.Context, _ string) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("processed %d items, want 2", count)
	}
}
