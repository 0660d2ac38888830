package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ubicatec/ubicatec-api/internal/queue"
)

// Notifier delivers a reservation confirmation.  Implementations must
// honour ctx; the dispatcher bounds every call with its own timeout.
type Notifier interface {
	Notify(ctx context.Context, ev queue.ReservationConfirmed) error
}

// Dispatcher runs notifications after commit, off the request path.  A
// send never shares the request context or the transaction, so neither a
// slow relay nor a client hanging up can affect a committed reservation.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifier: n, timeout: timeout, log: log}
}

// Dispatch starts delivering ev and returns a channel that receives the
// outcome exactly once.  The channel is buffered, so callers may stop
// listening at any time.
func (d *Dispatcher) Dispatch(ev queue.ReservationConfirmed) <-chan error {
	out := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(out)
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		err := d.notify(ctx, ev)
		if err != nil {
			d.log.Warn("confirmation not delivered",
				zap.Uint64("id_reserva", ev.ReservationID), zap.Error(err))
		}
		out <- err
	}()
	return out
}

func (d *Dispatcher) notify(ctx context.Context, ev queue.ReservationConfirmed) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return d.notifier.Notify(ctx, ev)
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// LogNotifier only logs confirmations.  It is the development default.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev queue.ReservationConfirmed) error {
	n.Log.Info("reservation confirmed",
		zap.Uint64("id_reserva", ev.ReservationID),
		zap.Uint64("id_evento", ev.EventID),
		zap.Uint64("id_usuario", ev.UserID),
		zap.String("correo", ev.UserEmail),
		zap.String("evento", ev.EventName))
	return nil
}
