package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultBuffer = 64
	sendTimeout   = 15 * time.Second
	retryDelay    = 5 * time.Second
)

type task struct {
	to      string
	subject string
	body    string
}

// Dispatcher decouples email delivery from the request cycle: Enqueue
// hands the message to a single background worker and returns
// immediately. Delivery failures are retried once, then logged and
// dropped; they never surface to the operation that triggered them.
type Dispatcher struct {
	notifier   Notifier
	tasks      chan task
	retryDelay time.Duration
	wg         sync.WaitGroup
	once       sync.Once
}

func NewDispatcher(n Notifier, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher{
		notifier:   n,
		tasks:      make(chan task, buffer),
		retryDelay: retryDelay,
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// Enqueue never blocks. When the buffer is full the message is dropped
// with a log entry; losing a notification is acceptable, delaying a
// checkout response is not.
func (d *Dispatcher) Enqueue(to, subject, htmlBody string) {
	select {
	case d.tasks <- task{to: to, subject: subject, body: htmlBody}:
	default:
		log.Warn().Str("to", to).Str("subject", subject).Msg("notify: dispatch buffer full, dropping email")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.deliver(t)
	}
}

func (d *Dispatcher) deliver(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	err := d.notifier.Send(ctx, t.to, t.subject, t.body)
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("to", t.to).Str("subject", t.subject).Msg("notify: email delivery failed, retrying once")

	time.Sleep(d.retryDelay)
	retryCtx, retryCancel := context.WithTimeout(context.Background(), sendTimeout)
	defer retryCancel()
	if err := d.notifier.Send(retryCtx, t.to, t.subject, t.body); err != nil {
		log.Error().Err(err).Str("to", t.to).Str("subject", t.subject).Msg("notify: email delivery failed after retry, dropping")
	}
}

// Close drains queued messages and stops the worker.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.tasks)
	})
	d.wg.Wait()
}
