package blefs

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Peripheral owns the advertise, accept, monitor, teardown and reset
// cycle for a single peer at a time.
type Peripheral struct {
	radio      Radio
	opts       *Options
	log        *zap.Logger
	dispatcher *dispatcher

	state atomic.Int32
}

// New creates a Peripheral serving st over radio.
func New(radio Radio, st Store, opts ...Option) *Peripheral {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Peripheral{
		radio:      radio,
		opts:       options,
		log:        options.Logger.Named("lifecycle"),
		dispatcher: newDispatcher(st, options),
	}
}

// State returns the current lifecycle state.
func (p *Peripheral) State() State {
	return State(p.state.Load())
}

func (p *Peripheral) setState(s State) {
	from := State(p.state.Swap(int32(s)))
	if from == s {
		return
	}
	p.log.Debug("state change", zap.Stringer("from", from), zap.Stringer("to", s))
	p.opts.Metrics.observeState(s)
	if p.opts.OnStateChange != nil {
		p.opts.OnStateChange(from, s)
	}
}

// Run cycles until ctx is done and then returns ctx.Err(). Radio and
// dispatcher failures are logged and never end the loop.
func (p *Peripheral) Run(ctx context.Context) error {
	p.state.Store(int32(StateIdle))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.setState(StateAdvertising)
		p.log.Info("advertising", zap.String("name", p.opts.Advertise.Name), zap.Duration("timeout", p.opts.Advertise.Timeout))

		conn, err := p.radio.Advertise(ctx, p.opts.Advertise)
		switch {
		case err == nil:
			p.serve(ctx, conn)
		case ctx.Err() != nil:
			p.setState(StateIdle)
			return ctx.Err()
		case errors.Is(err, ErrAdvertiseTimeout):
			p.log.Info("no peer within advertising window, advertising again")
			continue
		default:
			p.log.Warn("advertising or accept failed", zap.Error(err))
		}

		if err := ctx.Err(); err != nil {
			p.setState(StateIdle)
			return err
		}

		p.resetRadio(ctx)
		p.setState(StateIdle)
	}
}

// serve runs the dispatcher for one connection and returns once it has
// been torn down.
func (p *Peripheral) serve(ctx context.Context, conn Conn) {
	p.setState(StateConnected)
	log := p.log.With(zap.String("peer", conn.Peer()))
	log.Info("peer connected")

	sess := newSession(conn)
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     conc.WaitGroup
		exited = make(chan struct{})
		result error
	)
	wg.Go(func() {
		defer close(exited)
		result = p.dispatcher.run(dctx, sess)
	})

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

monitor:
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down connection")
			break monitor
		case <-exited:
			if result != nil && !errors.Is(result, context.Canceled) {
				log.Warn("dispatcher stopped", zap.Error(result))
			}
			break monitor
		case <-ticker.C:
			if !conn.Connected() {
				log.Info("connection lost")
				break monitor
			}
		}
	}

	p.teardown(log, sess, cancel, &wg, exited)
}

// teardown fences the session, cancels the dispatcher and waits a bounded
// time for it to return.
func (p *Peripheral) teardown(log *zap.Logger, sess *session, cancel context.CancelFunc, wg *conc.WaitGroup, exited <-chan struct{}) {
	p.setState(StateTearingDown)

	sess.fence()
	cancel()

	recovered := func() {
		if r := wg.WaitAndRecover(); r != nil {
			log.Error("dispatcher panicked", zap.Error(r.AsError()))
		}
	}

	t := time.NewTimer(p.opts.CancelTimeout)
	defer t.Stop()

	select {
	case <-exited:
		recovered()
		log.Debug("dispatcher stopped")
	case <-t.C:
		// A handler is stuck in an external call. The session is fenced,
		// so the reset can go ahead while it drains.
		log.Warn("dispatcher did not stop in time, resetting radio anyway", zap.Duration("waited", p.opts.CancelTimeout))
		go recovered()
	}
}

// resetRadio power-cycles the radio with settle delays around each step.
func (p *Peripheral) resetRadio(ctx context.Context) {
	p.setState(StateResettingRadio)

	if !sleep(ctx, p.opts.ResetDelay) {
		return
	}
	if err := p.radio.Deactivate(ctx); err != nil {
		p.log.Warn("radio deactivate failed", zap.Error(err))
	}
	if !sleep(ctx, p.opts.ResetDelay) {
		return
	}
	if err := p.radio.Activate(ctx); err != nil {
		p.log.Warn("radio activate failed", zap.Error(err))
	}
	sleep(ctx, p.opts.ResetDelay)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
