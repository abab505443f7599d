// Package remote mirrors a file store to an OCI registry.
//
// A push packs every file into zstd layers grouped by name prefix and
// records, per prefix, a content hash and the layer holding it in the
// image config labels. A pull downloads only the layers whose prefixes
// differ from what the local store already holds.
package remote

import (
	"fmt"

	"github.com/aweris/blefs/internal/compression"
	"github.com/google/go-containerregistry/pkg/name"
	"go.uber.org/zap"
)

const (
	DefaultConcurrency = 4

	labelFiles    = "dev.blefs.files"
	labelPrefixes = "dev.blefs.prefixes"
)

// Mirror pushes and pulls one image reference.
type Mirror struct {
	ref         name.Reference
	codec       *compression.Codec
	auth        Authenticator
	concurrency int
	log         *zap.Logger
}

type Option func(*Mirror)

// WithConcurrency bounds parallel layer transfers.
func WithConcurrency(n int) Option {
	return func(m *Mirror) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithAuthenticator overrides the default docker keychain lookup.
func WithAuthenticator(a Authenticator) Option {
	return func(m *Mirror) { m.auth = a }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Mirror) { m.log = l }
}

// New parses imageRef, e.g. "ghcr.io/acme/shelf:main". Untagged
// references get "latest". The codec is shared, not closed.
func New(imageRef string, codec *compression.Codec, opts ...Option) (*Mirror, error) {
	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	m := &Mirror{
		ref:         ref,
		codec:       codec,
		auth:        KeychainAuthenticator{},
		concurrency: DefaultConcurrency,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("ref", ref.String()))
	return m, nil
}

func (m *Mirror) String() string { return m.ref.String() }
