package gameserver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/game/session"
	"github.com/cory-johannsen/huddle/internal/observability"
)

// ErrDispatcherStopped is returned when submitting to a stopped Dispatcher.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdInbound
	cmdDisconnect
)

type connectReply struct {
	outbox *session.Outbox
	err    error
}

type command struct {
	kind     commandKind
	memberID string
	env      Envelope
	reply    chan connectReply
}

// Dispatcher serializes every connect, inbound event and disconnect onto a
// single goroutine, so each event and all of its fan-out complete before the
// next one is applied.
type Dispatcher struct {
	svc     *RelayService
	queue   chan command
	metrics *observability.Metrics
	logger  *zap.Logger

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher creates a Dispatcher with a queue of queueSize commands.
//
// Precondition: svc and logger must be non-nil; queueSize must be >= 1.
func NewDispatcher(svc *RelayService, queueSize int, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		svc:     svc,
		queue:   make(chan command, queueSize),
		metrics: metrics,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the dispatch loop. It blocks until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.started.Store(true)
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.stop:
			return nil
		case cmd := <-d.queue:
			d.metrics.SetQueueDepth(len(d.queue))
			d.execute(cmd)
		}
	}
}

// Stop ends the dispatch loop, then drops every room and closes every outbox
// so connection write pumps exit.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.stopOnce.Do(func() { close(d.stop) })
	if d.started.Load() {
		select {
		case <-d.done:
		case <-ctx.Done():
			d.logger.Warn("dispatcher did not drain before deadline")
		}
	}
	d.svc.Close()
}

// Connect registers a member and returns its outbox once the loop has applied it.
func (d *Dispatcher) Connect(ctx context.Context, memberID string) (*session.Outbox, error) {
	reply := make(chan connectReply, 1)
	if err := d.submit(ctx, command{kind: cmdConnect, memberID: memberID, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.outbox, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrDispatcherStopped
	}
}

// Inbound queues an event from memberID.
func (d *Dispatcher) Inbound(ctx context.Context, memberID string, env Envelope) error {
	return d.submit(ctx, command{kind: cmdInbound, memberID: memberID, env: env})
}

// Disconnect queues the removal of memberID.
func (d *Dispatcher) Disconnect(ctx context.Context, memberID string) error {
	return d.submit(ctx, command{kind: cmdDisconnect, memberID: memberID})
}

func (d *Dispatcher) submit(ctx context.Context, cmd command) error {
	select {
	case <-d.stop:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.queue <- cmd:
		d.metrics.SetQueueDepth(len(d.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stop:
		return ErrDispatcherStopped
	}
}

func (d *Dispatcher) execute(cmd command) {
	switch cmd.kind {
	case cmdConnect:
		out, err := d.svc.Connect(cmd.memberID)
		cmd.reply <- connectReply{outbox: out, err: err}
	case cmdInbound:
		if err := d.svc.Handle(cmd.memberID, cmd.env); err != nil {
			d.metrics.Drop("rejected")
			d.logger.Debug("event rejected",
				zap.String("member_id", cmd.memberID),
				zap.String("event", cmd.env.Event),
				zap.Error(err),
			)
		}
	case cmdDisconnect:
		d.svc.Disconnect(cmd.memberID)
	}
}
