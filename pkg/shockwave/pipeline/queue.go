package pipeline

import (
	"context"
	"sync"
)

// BoundedPipeline is a single-producer, single-consumer bounded FIFO
// queue. It is the bridge between a connection's Reader (producer) and
// Writer (consumer): capacity bounds how far ahead of the Writer the
// Reader is allowed to run, which is what turns handler backpressure
// into TCP backpressure.
//
// BoundedPipeline deliberately does not support multiple producers or
// consumers - response ordering and the single-writer invariant on the
// underlying socket both depend on there being exactly one of each.
type BoundedPipeline[T any] struct {
	ch           chan T
	capacityOnce sync.Once

	closeProducerOnce sync.Once
	producerClosed    chan struct{}

	closeConsumerOnce sync.Once
	consumerClosed    chan struct{}
}

// NewBoundedPipeline creates a pipeline with the given capacity. A
// capacity of 0 makes Push synchronous with Pop (an unbuffered
// handoff), which is still legal but offers no slack before Push
// blocks.
func NewBoundedPipeline[T any](capacity int) *BoundedPipeline[T] {
	return &BoundedPipeline[T]{
		ch:             make(chan T, capacity),
		producerClosed: make(chan struct{}),
		consumerClosed: make(chan struct{}),
	}
}

// Push enqueues item, blocking until capacity is available, the
// consumer closes (Push then fails and the item is discarded), or ctx
// is done. Pushing after CloseProducer has been called is a programmer
// error and panics, matching the single-producer contract.
func (p *BoundedPipeline[T]) Push(ctx context.Context, item T) error {
	select {
	case <-p.consumerClosed:
		return ErrPipelineClosedErr
	default:
	}

	select {
	case p.ch <- item:
		return nil
	case <-p.consumerClosed:
		return ErrPipelineClosedErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the next item in FIFO order, blocking until an item is
// available or the producer has closed and the queue is drained, in
// which case it returns (zero, false). Pop ignores ctx cancellation by
// design: the Writer must keep draining until the pipeline is
// genuinely empty and closed, not merely until it is asked to stop.
func (p *BoundedPipeline[T]) Pop() (T, bool) {
	item, ok := <-p.ch
	return item, ok
}

// Size reports the number of items currently queued.
func (p *BoundedPipeline[T]) Size() int {
	return len(p.ch)
}

// CloseProducer signals that no further items will be pushed. Items
// already queued remain available to Pop; once drained, Pop returns
// false. Safe to call more than once or concurrently with Push.
func (p *BoundedPipeline[T]) CloseProducer() {
	p.closeProducerOnce.Do(func() {
		close(p.producerClosed)
		close(p.ch)
	})
}

// CloseConsumer signals that the consumer is gone: any Push in
// progress or issued afterward fails immediately instead of blocking
// forever on a queue nobody will ever drain. Safe to call more than
// once.
func (p *BoundedPipeline[T]) CloseConsumer() {
	p.closeConsumerOnce.Do(func() {
		close(p.consumerClosed)
	})
}
