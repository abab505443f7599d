package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/aweris/blefs/internal/store"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Stats summarises one transfer.
type Stats struct {
	Files      int
	Layers     int
	Raw        int64
	Compressed int64
}

// blobLayer is a packed layer held in memory, compressed with zstd.
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
	digest       v1.Hash
	diffID       v1.Hash
}

func (m *Mirror) newBlobLayer(data []byte) (*blobLayer, error) {
	l := &blobLayer{compressed: m.codec.Compress(data), uncompressed: data}
	var err error
	if l.digest, _, err = v1.SHA256(bytes.NewReader(l.compressed)); err != nil {
		return nil, err
	}
	if l.diffID, _, err = v1.SHA256(bytes.NewReader(l.uncompressed)); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *blobLayer) Digest() (v1.Hash, error) { return l.digest, nil }
func (l *blobLayer) DiffID() (v1.Hash, error) { return l.diffID, nil }
func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// readAll loads every file in st.
func readAll(ctx context.Context, st store.Store) (map[string][]byte, error) {
	entries, err := st.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list store: %w", err)
	}
	files := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := st.ReadFile(ctx, e.Name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name, err)
		}
		files[e.Name] = data
	}
	return files, nil
}

// Push uploads the full contents of st, replacing the image at the
// mirror's reference.
func (m *Mirror) Push(ctx context.Context, st store.Store) (Stats, error) {
	files, err := readAll(ctx, st)
	if err != nil {
		return Stats{}, err
	}

	byPrefix := GroupByPrefix(files)
	sizes := make(map[string]int64, len(byPrefix))
	for p, bucket := range byPrefix {
		sizes[p] = bucketSize(bucket)
	}
	plan := BuildLayerPlan(sizes)

	stats := Stats{Files: len(files), Layers: len(plan)}
	prefixes := make(map[string]PrefixInfo, len(byPrefix))
	layers := make([]v1.Layer, 0, len(plan))
	for _, group := range plan {
		raw := PackLayer(collect(group, byPrefix))
		layer, err := m.newBlobLayer(raw)
		if err != nil {
			return Stats{}, fmt.Errorf("build layer: %w", err)
		}
		stats.Raw += int64(len(raw))
		stats.Compressed += int64(len(layer.compressed))
		layers = append(layers, layer)

		for _, p := range group {
			prefixes[p] = PrefixInfo{Hash: PrefixHash(byPrefix[p]), Layer: layer.digest.String()}
		}
	}

	img, err := buildImage(layers, len(files), prefixes)
	if err != nil {
		return Stats{}, fmt.Errorf("build image: %w", err)
	}

	m.log.Info("pushing", zap.Int("files", stats.Files), zap.Int("layers", stats.Layers),
		zap.Int64("raw_bytes", stats.Raw), zap.Int64("compressed_bytes", stats.Compressed))

	opts := append(m.remoteOptions(ctx), remote.WithJobs(m.concurrency))
	if _, err := retry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, remote.Write(m.ref, img, opts...)
	}); err != nil {
		return Stats{}, fmt.Errorf("push image: %w", err)
	}
	return stats, nil
}

func buildImage(layers []v1.Layer, files int, prefixes map[string]PrefixInfo) (v1.Image, error) {
	img, err := mutate.AppendLayers(empty.Image, layers...)
	if err != nil {
		return nil, err
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	index, err := json.Marshal(prefixes)
	if err != nil {
		return nil, err
	}
	cfg = cfg.DeepCopy()
	cfg.Config.Labels = map[string]string{
		labelFiles:    strconv.Itoa(files),
		labelPrefixes: string(index),
	}
	return mutate.ConfigFile(img, cfg)
}

// Pull writes the mirrored files into st. Only layers carrying a prefix
// whose contents differ locally are downloaded. Local files the image
// does not know about are left alone.
func (m *Mirror) Pull(ctx context.Context, st store.Store) (Stats, error) {
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(m.ref, m.remoteOptions(ctx)...)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return Stats{}, fmt.Errorf("read config: %w", err)
	}
	raw, ok := cfg.Config.Labels[labelPrefixes]
	if !ok {
		return Stats{}, fmt.Errorf("%s is not a blefs mirror: missing %s label", m.ref, labelPrefixes)
	}
	var remotePrefixes map[string]PrefixInfo
	if err := json.Unmarshal([]byte(raw), &remotePrefixes); err != nil {
		return Stats{}, fmt.Errorf("parse prefixes: %w", err)
	}

	local, err := readAll(ctx, st)
	if err != nil {
		return Stats{}, err
	}
	localByPrefix := GroupByPrefix(local)

	changed := make(map[string]bool)
	needed := make(map[string]bool)
	for p, info := range remotePrefixes {
		if PrefixHash(localByPrefix[p]) != info.Hash {
			changed[p] = true
			needed[info.Layer] = true
		}
	}

	all, err := img.Layers()
	if err != nil {
		return Stats{}, fmt.Errorf("list layers: %w", err)
	}
	var layers []v1.Layer
	for _, l := range all {
		d, err := l.Digest()
		if err != nil {
			return Stats{}, fmt.Errorf("layer digest: %w", err)
		}
		if needed[d.String()] {
			layers = append(layers, l)
		}
	}

	m.log.Info("pulling", zap.Int("layers", len(layers)), zap.Int("changed_prefixes", len(changed)))

	var (
		mu    sync.Mutex
		stats = Stats{Layers: len(layers)}
	)
	p := pool.New().WithMaxGoroutines(m.concurrency).WithContext(ctx).WithCancelOnError()
	for _, layer := range layers {
		p.Go(func(ctx context.Context) error {
			files, compressed, err := m.fetchLayer(layer)
			if err != nil {
				return err
			}
			var written int
			var raw int64
			for name, data := range files {
				if !changed[Prefix(name)] {
					continue
				}
				if err := st.WriteFile(ctx, name, data); err != nil {
					return fmt.Errorf("write %s: %w", name, err)
				}
				written++
				raw += int64(len(data))
			}
			mu.Lock()
			stats.Files += written
			stats.Raw += raw
			stats.Compressed += compressed
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (m *Mirror) fetchLayer(layer v1.Layer) (map[string][]byte, int64, error) {
	rc, err := layer.Compressed()
	if err != nil {
		return nil, 0, fmt.Errorf("open layer: %w", err)
	}
	compressed, err := io.ReadAll(rc)
	if cerr := rc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read layer: %w", err)
	}
	raw, err := m.codec.Decompress(compressed)
	if err != nil {
		return nil, 0, err
	}
	files, err := UnpackLayer(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("unpack layer: %w", err)
	}
	return files, int64(len(compressed)), nil
}

// Index returns the per-prefix index recorded in the remote image.
func (m *Mirror) Index(ctx context.Context) (map[string]PrefixInfo, error) {
	img, err := remote.Image(m.ref, m.remoteOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	out := make(map[string]PrefixInfo)
	if raw := cfg.Config.Labels[labelPrefixes]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("parse prefixes: %w", err)
		}
	}
	return out, nil
}

func (m *Mirror) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{remote.WithContext(ctx)}
	if auth, err := m.auth.Resolve(m.ref.Context()); err == nil {
		opts = append(opts, remote.WithAuth(auth))
	} else {
		m.log.Warn("credential lookup failed, trying anonymous", zap.Error(err))
	}
	return opts
}

func retry[T any](ctx context.Context, attempts int, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := range attempts {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		last = err
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(time.Duration(1<<i) * 500 * time.Millisecond):
			}
		}
	}
	return zero, last
}
