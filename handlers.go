package blefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Acknowledgement tags carried by successful uploads and deletes.
const (
	AckOK      = "OK"
	AckDeleted = "DELETED"
)

// Result is what a handler produces on success: either an acknowledgement
// tag or raw response data. The dispatcher turns it into wire bytes.
type Result struct {
	Ack  string
	Data []byte
}

type handlers struct {
	store Store
	opts  *Options
}

func (h *handlers) handle(ctx context.Context, req Request) (Result, error) {
	switch r := req.(type) {
	case EchoRequest:
		return Result{Data: r.Data}, nil
	case UploadRequest:
		return h.upload(ctx, r)
	case DeleteRequest:
		return h.delete(ctx, r)
	case ListRequest:
		return h.list(ctx)
	case DownloadRequest:
		return h.download(ctx, r)
	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnknownOpcode, req)
	}
}

func (h *handlers) upload(ctx context.Context, r UploadRequest) (Result, error) {
	if int64(r.Size) != int64(len(r.Content)) {
		return Result{}, fmt.Errorf("%w: declared %d bytes, received %d", ErrSizeMismatch, r.Size, len(r.Content))
	}
	if h.opts.VerifyDigest && HashOf(r.Content) != r.Hash {
		return Result{}, fmt.Errorf("%w: content does not hash to %s", ErrDigestMismatch, r.Hash)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if err := h.store.WriteFile(ctx, r.Hash.String(), r.Content); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return Result{Ack: AckOK}, nil
}

func (h *handlers) delete(ctx context.Context, r DeleteRequest) (Result, error) {
	name := r.Hash.String()

	size, err := h.store.StatSize(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", name, err)
	}
	// Same name, different generation: refuse rather than delete blindly.
	if size != int64(r.Size) {
		return Result{}, fmt.Errorf("%w: %s is %d bytes, request expects %d", ErrSizeMismatch, name, size, r.Size)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if err := h.store.DeleteFile(ctx, name); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return Result{Ack: AckDeleted}, nil
}

func (h *handlers) list(ctx context.Context) (Result, error) {
	entries, err := h.store.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list: %w", err)
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(e.Name)
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(e.Size, 10))
	}

	if b.Len() > h.opts.TransportUnit {
		return Result{}, fmt.Errorf("%w: listing is %d bytes, limit %d", ErrResponseTooLarge, b.Len(), h.opts.TransportUnit)
	}
	return Result{Data: []byte(b.String())}, nil
}

func (h *handlers) download(ctx context.Context, r DownloadRequest) (Result, error) {
	data, err := h.store.ReadFile(ctx, r.Name)
	if err != nil {
		return Result{}, fmt.Errorf("read %q: %w", r.Name, err)
	}
	if len(data) > h.opts.TransportUnit {
		return Result{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrResponseTooLarge, r.Name, len(data), h.opts.TransportUnit)
	}
	return Result{Data: data}, nil
}
