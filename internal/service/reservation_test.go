package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ubicatec/ubicatec-api/internal/database"
	"github.com/ubicatec/ubicatec-api/internal/database/dbtest"
	"github.com/ubicatec/ubicatec-api/internal/model"
	"github.com/ubicatec/ubicatec-api/internal/queue"
	"github.com/ubicatec/ubicatec-api/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []queue.ReservationConfirmed
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, ev queue.ReservationConfirmed) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, ev)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type blockingNotifier struct{}

func (blockingNotifier) Notify(ctx context.Context, _ queue.ReservationConfirmed) error {
	<-ctx.Done()
	return ctx.Err()
}

type fixture struct {
	db  *sql.DB
	svc *ReservationService
	d   *Dispatcher
}

func newFixture(t *testing.T, n Notifier, wait time.Duration) fixture {
	t.Helper()
	db := dbtest.Open(t)
	d := NewDispatcher(n, 200*time.Millisecond, zap.NewNop())
	t.Cleanup(d.Wait)
	svc := NewReservationService(
		database.NewGateway(db, 10*time.Second),
		repository.NewEventRepo(db),
		repository.NewReservationRepo(db),
		repository.NewUserRepo(db),
		d, wait, zap.NewNop(),
	)
	return fixture{db: db, svc: svc, d: d}
}

func TestReserveCreatesReservationAndNotifies(t *testing.T) {
	n := &recordingNotifier{}
	f := newFixture(t, n, time.Second)
	ctx := context.Background()
	ev := dbtest.Event(t, f.db, dbtest.EventOpts{Name: "Festival de Bandas", Capacity: 2})
	user := dbtest.User(t, f.db, model.RoleStudent, 1)

	res, err := f.svc.Reserve(ctx, ReserveInput{EventID: uint64(ev), UserID: uint64(user)})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, MsgCreated, res.Message)
	require.NotNil(t, res.Data)
	assert.NotZero(t, res.Data.ReservationID)
	assert.Equal(t, uint64(ev), res.Data.EventID)
	assert.Equal(t, uint64(user), res.Data.UserID)
	assert.True(t, res.Data.EmailSent)

	att, status := dbtest.Counters(t, f.db, ev)
	assert.Equal(t, 1, att)
	assert.Equal(t, model.EventAvailable, status)

	require.Equal(t, 1, n.count())
	assert.Equal(t, "Festival de Bandas", n.sent[0].EventName)
	assert.Equal(t, res.Data.ReservationID, n.sent[0].ReservationID)

	got, err := f.svc.CheckReservation(ctx, uint64(ev), uint64(user))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.DefaultPaymentMethod, got.PaymentMethod)
	assert.Equal(t, model.ReservationConfirmed, got.Status)

	mine, err := f.svc.MyReservations(ctx, uint64(user))
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestReserveLastSeatMarksSoldOut(t *testing.T) {
	f := newFixture(t, &recordingNotifier{}, time.Second)
	ctx := context.Background()
	ev := dbtest.Event(t, f.db, dbtest.EventOpts{Capacity: 1})
	a := dbtest.User(t, f.db, model.RoleStudent, 1)
	b := dbtest.User(t, f.db, model.RoleVisitor, 0)

	res, err := f.svc.Reserve(ctx, ReserveInput{EventID: uint64(ev), UserID: uint64(a)})
	require.NoError(t, err)
	require.True(t, res.OK())

	att, status := dbtest.Counters(t, f.db, ev)
	assert.Equal(t, 1, att)
	assert.Equal(t, model.EventSoldOut, status)

	res, err = f.svc.Reserve(ctx, ReserveInput{EventID: uint64(ev), UserID: uint64(b)})
	require.NoError(t, err)
	assert.Equal(t, CodeSoldOut, res.Code)
	assert.Equal(t, MsgSoldOut, res.Message)
	assert.Nil(t, res.Data)
	assert.Equal(t, 1, dbtest.CountReservations(t, f.db, ev))
}

func TestReserveRejections(t *testing.T) {
	f := newFixture(t, &recordingNotifier{}, time.Second)
	ctx := context.Background()
	user := dbtest.User(t, f.db, model.RoleStudent, 1)
	cancelled := dbtest.Event(t, f.db, dbtest.EventOpts{Status: model.EventCancelled, Attendance: 3})
	open := dbtest.Event(t, f.db, dbtest.EventOpts{})

	cases := []struct {
		name string
		in   ReserveInput
		code Code
		msg  string
	}{
		{"missing event", ReserveInput{UserID: uint64(user)}, CodeBadRequest, MsgMissingIDs},
		{"missing user", ReserveInput{EventID: uint64(open)}, CodeBadRequest, MsgMissingIDs},
		{"unknown event", ReserveInput{EventID: 99999, UserID: uint64(user)}, CodeNotFound, MsgEventNotFound},
		{"unknown user", ReserveInput{EventID: uint64(open), UserID: 99999}, CodeNotFound, MsgUserNotFound},
		{"cancelled event", ReserveInput{EventID: uint64(cancelled), UserID: uint64(user)}, CodeNotAvailable, MsgNotAvailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.svc.Reserve(ctx, tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.code, res.Code)
			assert.Equal(t, tc.msg, res.Message)
			assert.Nil(t, res.Data)
		})
	}

	att, status := dbtest.Counters(t, f.db, cancelled)
	assert.Equal(t, 3, att)
	assert.Equal(t, model.EventCancelled, status)
	assert.Zero(t, dbtest.CountReservations(t, f.db, cancelled))
	att, _ = dbtest.Counters(t, f.db, open)
	assert.Zero(t, att)
}

func TestReserveDuplicateLeavesCountersAlone(t *testing.T) {
	f := newFixture(t, &recordingNotifier{}, time.Second)
	ctx := context.Background()
	ev := dbtest.Event(t, f.db, dbtest.EventOpts{Capacity: 5})
	user := dbtest.User(t, f.db, model.RoleStudent, 2)
	in := ReserveInput{EventID: uint64(ev), UserID: uint64(user)}

	first, err := f.svc.Reserve(ctx, in)
	require.NoError(t, err)
	require.True(t, first.OK())

	second, err := f.svc.Reserve(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, CodeDuplicate, second.Code)
	assert.Equal(t, MsgDuplicate, second.Message)

	att, _ := dbtest.Counters(t, f.db, ev)
	assert.Equal(t, 1, att)
	assert.Equal(t, 1, dbtest.CountReservations(t, f.db, ev))
}

// The SQLite pool queues whole workflows on its single connection, so this
// checks outcomes and counters under concurrent callers; overlapping
// transactions on the capacity ledger are covered in the repository tests.
func TestReserveConcurrentNeverOverbooks(t *testing.T) {
	for _, tc := range []struct {
		name     string
		capacity int
		users    int
	}{
		{"single seat", 1, 2},
		{"many contenders", 5, 20},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &recordingNotifier{}, time.Second)
			ev := dbtest.Event(t, f.db, dbtest.EventOpts{Capacity: tc.capacity})
			users := make([]int64, tc.users)
			for i := range users {
				users[i] = dbtest.User(t, f.db, model.RoleStudent, 1)
			}

			var ok, soldOut atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for _, u := range users {
				wg.Add(1)
				go func(u int64) {
					defer wg.Done()
					<-start
					res, err := f.svc.Reserve(context.Background(), ReserveInput{EventID: uint64(ev), UserID: uint64(u)})
					if !assert.NoError(t, err) {
						return
					}
					switch res.Code {
					case CodeOK:
						ok.Add(1)
					case CodeSoldOut:
						soldOut.Add(1)
					default:
						t.Errorf("unexpected code %s", res.Code)
					}
				}(u)
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int32(tc.capacity), ok.Load())
			assert.Equal(t, int32(tc.users-tc.capacity), soldOut.Load())
			att, status := dbtest.Counters(t, f.db, ev)
			assert.Equal(t, tc.capacity, att)
			assert.Equal(t, model.EventSoldOut, status)
			assert.Equal(t, tc.capacity, dbtest.CountReservations(t, f.db, ev))
		})
	}
}

func TestReserveSucceedsWhenNotifierFails(t *testing.T) {
	f := newFixture(t, &recordingNotifier{err: errors.New("smtp down")}, time.Second)
	ev := dbtest.Event(t, f.db, dbtest.EventOpts{})
	user := dbtest.User(t, f.db, model.RoleVisitor, 0)

	res, err := f.svc.Reserve(context.Background(), ReserveInput{EventID: uint64(ev), UserID: uint64(user)})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.False(t, res.Data.EmailSent)
	assert.Equal(t, 1, dbtest.CountReservations(t, f.db, ev))
}

func TestReserveDoesNotWaitPastNotifyWindow(t *testing.T) {
	f := newFixture(t, blockingNotifier{}, 20*time.Millisecond)
	ev := dbtest.Event(t, f.db, dbtest.EventOpts{})
	user := dbtest.User(t, f.db, model.RoleVisitor, 0)

	start := time.Now()
	res, err := f.svc.Reserve(context.Background(), ReserveInput{EventID: uint64(ev), UserID: uint64(user)})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.False(t, res.Data.EmailSent)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	f.d.Wait()
}

func TestCheckReservationIsReadOnly(t *testing.T) {
	f := newFixture(t, &recordingNotifier{}, time.Second)
	ctx := context.Background()
	ev := dbtest.Event(t, f.db, dbtest.EventOpts{})
	user := dbtest.User(t, f.db, model.RoleStudent, 1)

	got, err := f.svc.CheckReservation(ctx, uint64(ev), uint64(user))
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.svc.Reserve(ctx, ReserveInput{EventID: uint64(ev), UserID: uint64(user)})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		got, err = f.svc.CheckReservation(ctx, uint64(ev), uint64(user))
		require.NoError(t, err)
		require.NotNil(t, got)
	}
	att, _ := dbtest.Counters(t, f.db, ev)
	assert.Equal(t, 1, att)
}

func TestDispatcherRecoversPanickingNotifier(t *testing.T) {
	d := NewDispatcher(panicNotifier{}, time.Second, zap.NewNop())
	err := <-d.Dispatch(queue.ReservationConfirmed{ReservationID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	d.Wait()
}

type panicNotifier struct{}

func (panicNotifier) Notify(context.Context, queue.ReservationConfirmed) error { panic("boom") }
