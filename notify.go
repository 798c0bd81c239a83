package clockauth

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

type noopNotifier struct{}

func (noopNotifier) SendWelcome(context.Context, string, string) error { return nil }

func (noopNotifier) SendPasswordReset(context.Context, string, string, string) error { return nil }

func (noopNotifier) SendPasswordChanged(context.Context, string, string) error { return nil }

type notifyJob struct {
	name string
	send func(ctx context.Context, n Notifier) error
}

// notifyDispatcher delivers notifications off the request path. A failed
// delivery is logged and forgotten; it never fails the operation that
// triggered it.
type notifyDispatcher struct {
	notifier  Notifier
	ch        chan notifyJob
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newNotifyDispatcher(cfg NotifyConfig, notifier Notifier) *notifyDispatcher {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &notifyDispatcher{
		notifier: notifier,
		ch:       make(chan notifyJob, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *notifyDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.ch:
			d.deliver(job)
		case <-d.done:
			for {
				select {
				case job := <-d.ch:
					d.deliver(job)
				default:
					return
				}
			}
		}
	}
}

func (d *notifyDispatcher) deliver(job notifyJob) {
	if err := job.send(context.Background(), d.notifier); err != nil {
		log.Printf("clockauth: notification %s failed: %v", job.name, err)
	}
}

// Enqueue schedules a notification. A full buffer drops the job and bumps
// the drop counter rather than blocking the caller.
func (d *notifyDispatcher) Enqueue(name string, send func(ctx context.Context, n Notifier) error) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- notifyJob{name: name, send: send}:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close drains pending notifications and stops the worker.
func (d *notifyDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *notifyDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
