package pipeline

import (
	"context"
	"testing"
	"time"
)

func TestBoundedPipelineFIFOOrder(t *testing.T) {
	p := NewBoundedPipeline[int](4)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := p.Push(ctx, i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	p.CloseProducer()

	for i := 0; i < 4; i++ {
		got, ok := p.Pop()
		if !ok {
			t.Fatalf("Pop() returned ok=false early at i=%d", i)
		}
		if got != i {
			t.Errorf("Pop() = %d, want %d (FIFO order violated)", got, i)
		}
	}

	if _, ok := p.Pop(); ok {
		t.Error("Pop() after drain and CloseProducer should return ok=false")
	}
}

func TestBoundedPipelinePushBlocksAtCapacity(t *testing.T) {
	p := NewBoundedPipeline[int](2)
	ctx := context.Background()

	p.Push(ctx, 1)
	p.Push(ctx, 2)

	pushed := make(chan struct{})
	go func() {
		p.Push(ctx, 3)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("Push should have blocked at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	p.Pop()

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("Push never unblocked after a Pop freed capacity")
	}
}

func TestBoundedPipelineCloseConsumerFailsPush(t *testing.T) {
	p := NewBoundedPipeline[int](1)
	ctx := context.Background()

	p.CloseConsumer()

	if err := p.Push(ctx, 1); err != ErrPipelineClosedErr {
		t.Fatalf("Push after CloseConsumer: err = %v, want ErrPipelineClosedErr", err)
	}
}

func TestBoundedPipelineProducerCloseDrainsThenStops(t *testing.T) {
	p := NewBoundedPipeline[int](4)
	ctx := context.Background()

	p.Push(ctx, 1)
	p.Push(ctx, 2)
	p.CloseProducer()

	got, ok := p.Pop()
	if !ok || got != 1 {
		t.Fatalf("first Pop() = (%d, %v), want (1, true)", got, ok)
	}
	got, ok = p.Pop()
	if !ok || got != 2 {
		t.Fatalf("second Pop() = (%d, %v), want (2, true)", got, ok)
	}
	if _, ok := p.Pop(); ok {
		t.Error("Pop() after drain should return ok=false")
	}
}
