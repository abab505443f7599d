package blefs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var errFenced = errors.New("blefs: session torn down")

// session scopes one connection. It is handed to the dispatcher by
// argument and fenced on teardown, after which nothing can be notified
// even by a handler that ignored cancellation.
type session struct {
	conn   Conn
	fenced atomic.Bool
}

func newSession(conn Conn) *session {
	return &session{conn: conn}
}

func (s *session) live() bool {
	return !s.fenced.Load() && s.conn.Connected()
}

func (s *session) notify(data []byte) error {
	if s.fenced.Load() {
		return errFenced
	}
	return s.conn.Notify(data)
}

func (s *session) fence() {
	s.fenced.Store(true)
}

// dispatcher reads one frame at a time from a session and answers it.
type dispatcher struct {
	handlers *handlers
	opts     *Options
	log      *zap.Logger
}

func newDispatcher(store Store, opts *Options) *dispatcher {
	return &dispatcher{
		handlers: &handlers{store: store, opts: opts},
		opts:     opts,
		log:      opts.Logger.Named("dispatcher"),
	}
}

// run serves frames until the link drops (nil), ctx is cancelled
// (ctx.Err()) or a channel operation fails (ErrTransport).
func (d *dispatcher) run(ctx context.Context, s *session) error {
	for {
		if !s.live() {
			return nil
		}

		frame, err := s.conn.WaitForWrite(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !s.live() {
				return nil
			}
			return fmt.Errorf("%w: wait for write: %w", ErrTransport, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		notified, err := d.serve(ctx, s, frame)
		if err != nil {
			return err
		}

		if notified && d.opts.ResponsePacing > 0 {
			t := time.NewTimer(d.opts.ResponsePacing)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

// serve handles one frame and sends at most one notification.
func (d *dispatcher) serve(ctx context.Context, s *session, frame []byte) (bool, error) {
	start := time.Now()
	op := "empty"
	if len(frame) > 0 {
		op = Opcode(frame[0]).String()
	}
	log := d.log.With(zap.String("op", op), zap.Int("bytes", len(frame)))

	req, err := DecodeRequest(frame)
	var res Result
	if err == nil {
		res, err = d.handlers.handle(ctx, req)
	}

	// Cancelled mid-request: the teardown owns the link now.
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	var out []byte
	outcome := "ok"
	switch {
	case err == nil:
		out = encodeResult(res)
	case isDownload(req) && !d.opts.DownloadErrors:
		outcome = "silent"
		log.Warn("download failed, not answering", zap.Error(err))
	default:
		outcome = "error"
		out = encodeError(err)
		log.Info("request rejected", zap.Error(err))
	}
	d.opts.Metrics.observeRequest(op, outcome, time.Since(start))

	if out == nil {
		return false, nil
	}
	if !s.live() {
		log.Debug("link gone before response")
		return false, nil
	}
	if err := s.notify(out); err != nil {
		if errors.Is(err, errFenced) {
			return false, nil
		}
		return false, fmt.Errorf("%w: notify: %w", ErrTransport, err)
	}

	log.Debug("answered", zap.String("outcome", outcome), zap.Int("response_bytes", len(out)), zap.Duration("took", time.Since(start)))
	return true, nil
}

func isDownload(req Request) bool {
	_, ok := req.(DownloadRequest)
	return ok
}

func encodeResult(res Result) []byte {
	if res.Ack != "" {
		return []byte("ACK:" + res.Ack)
	}
	if res.Data == nil {
		return []byte{}
	}
	return res.Data
}

func encodeError(err error) []byte {
	return []byte("ERR:" + errorReason(err))
}

// errorReason is the diagnostic text sent after ERR:. Peers treat it as
// opaque; write failures carry the underlying error text.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownOpcode):
		return "Unknown method"
	case errors.Is(err, ErrMalformedRequest):
		return "Malformed request"
	case errors.Is(err, ErrSizeMismatch):
		return "Size mismatch"
	case errors.Is(err, ErrDigestMismatch):
		return "Digest mismatch"
	case errors.Is(err, ErrNotFound):
		return "File not found"
	case errors.Is(err, ErrInvalidName):
		return "Invalid file name"
	case errors.Is(err, ErrResponseTooLarge):
		return "Response too large"
	default:
		return err.Error()
	}
}
