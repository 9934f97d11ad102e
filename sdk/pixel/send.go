package pixel

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/SebastienMelki/pixel/sdk/pixel/internal/event"
	"github.com/SebastienMelki/pixel/sdk/pixel/internal/scheduler"
)

// send is the scheduled send task. The emptiness and busy checks come before
// the consume so a guard never drains the buffer needlessly.
func (t *Tracker) send(ctx context.Context) (scheduler.Outcome, error) {
	if !t.buffer.Enabled() || t.buffer.Len() == 0 {
		return scheduler.Skip, nil
	}
	if !t.client.IsFree() {
		return scheduler.Skip, nil
	}

	events := t.buffer.Consume()
	if len(events) == 0 {
		return scheduler.Skip, nil
	}

	ok, err := t.client.SendEvent(ctx, events, t.batchCtx)
	if err != nil {
		t.requeue(ctx, events)
		return scheduler.Failure, fmt.Errorf("send %d events: %w", len(events), err)
	}
	if !ok {
		// Another send took the slot between IsFree and SendEvent.
		t.requeue(ctx, events)
		return scheduler.Skip, nil
	}

	return scheduler.Success, nil
}

func (t *Tracker) requeue(ctx context.Context, events []event.Event) {
	dropped := t.buffer.Requeue(events)
	t.metrics.EventsRequeued.Add(ctx, int64(len(events)))
	if dropped > 0 {
		t.metrics.EventsDropped.Add(ctx, int64(dropped))
	}
}

// beat is the heartbeat task: it buffers one "heartbeat" event per run.
func (t *Tracker) beat(context.Context) (scheduler.Outcome, error) {
	seq := atomic.AddInt64(&t.heartbeat, 1)
	if !t.Track(HeartbeatTaskName, NewPayload().Set("seq", seq)) {
		return scheduler.Skip, nil
	}
	return scheduler.Success, nil
}

// Flush is the shutdown hook. If tracking was never started or was killed
// it does nothing. Otherwise it stops the scheduler, waits for an in-flight
// send to settle and sends everything still buffered in one last request.
//
// ctx bounds the whole flush (the host's teardown grace period); without a
// deadline Config.UnloadGrace applies. Events of a failed final send are put
// back in the buffer and the error is returned.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if !t.started || t.killed {
		t.mu.Unlock()
		return nil
	}
	sched := t.sched
	t.mu.Unlock()

	sched.Kill()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.UnloadGrace)
		defer cancel()
	}

	if err := sched.Wait(ctx); err != nil {
		return fmt.Errorf("pixel: wait for in-flight send: %w", err)
	}
	// A scheduler replaced by Start may still own the transport.
	if err := t.client.WaitFree(ctx); err != nil {
		return fmt.Errorf("pixel: wait for transport: %w", err)
	}

	events := t.buffer.Consume()
	if len(events) == 0 {
		return nil
	}

	ok, err := t.client.SendEvent(ctx, events, t.batchCtx)
	if err != nil {
		t.requeue(ctx, events)
		t.logger.Warn("final flush failed", "events", len(events), "error", err)
		return fmt.Errorf("pixel: final flush: %w", err)
	}
	if !ok {
		t.requeue(ctx, events)
		return ErrTransportBusy
	}

	t.logger.Info("final flush sent", "events", len(events))
	return nil
}
