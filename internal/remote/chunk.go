package remote

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
)

const (
	LayerMinSize = 256 * 1024      // combine prefixes below this
	LayerSoftMax = 2 * 1024 * 1024 // start a new layer above this
)

var errCorruptLayer = errors.New("corrupt layer")

// PrefixInfo records which layer carries a prefix and the hash of the
// files under it.
type PrefixInfo struct {
	Hash  string `json:"hash"`
	Layer string `json:"layer"`
}

// Prefix buckets a file name. Hash-named files spread evenly over the
// first two hex digits.
func Prefix(name string) string {
	if len(name) >= 2 {
		return name[:2]
	}
	return name
}

// GroupByPrefix splits files into prefix buckets.
func GroupByPrefix(files map[string][]byte) map[string]map[string][]byte {
	out := make(map[string]map[string][]byte)
	for name, data := range files {
		p := Prefix(name)
		if out[p] == nil {
			out[p] = make(map[string][]byte)
		}
		out[p][name] = data
	}
	return out
}

// PrefixHash identifies the exact contents of a bucket: every name, its
// size and its bytes, in name order.
func PrefixHash(files map[string][]byte) string {
	if len(files) == 0 {
		return ""
	}
	h := sha256.New()
	var size [8]byte
	for _, name := range slices.Sorted(maps.Keys(files)) {
		h.Write([]byte(name))
		h.Write([]byte{0})
		binary.BigEndian.PutUint64(size[:], uint64(len(files[name])))
		h.Write(size[:])
		h.Write(files[name])
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func bucketSize(files map[string][]byte) int64 {
	var total int64
	for _, data := range files {
		total += int64(len(data))
	}
	return total
}

// PackLayer serialises files as repeated
// [name length u16][name][data length u64][data], in name order.
func PackLayer(files map[string][]byte) []byte {
	var buf bytes.Buffer
	var hdr [8]byte
	for _, name := range slices.Sorted(maps.Keys(files)) {
		data := files[name]
		binary.BigEndian.PutUint16(hdr[:2], uint16(len(name)))
		buf.Write(hdr[:2])
		buf.WriteString(name)
		binary.BigEndian.PutUint64(hdr[:], uint64(len(data)))
		buf.Write(hdr[:])
		buf.Write(data)
	}
	return buf.Bytes()
}

// UnpackLayer reverses PackLayer.
func UnpackLayer(data []byte) (map[string][]byte, error) {
	out := make(map[string][]byte)
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		var nameLen uint16
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("%w: name length: %w", errCorruptLayer, err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("%w: name: %w", errCorruptLayer, err)
		}
		var size uint64
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, fmt.Errorf("%w: size of %q: %w", errCorruptLayer, name, err)
		}
		if size > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: %q claims %d bytes, %d left", errCorruptLayer, name, size, r.Len())
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("%w: data of %q: %w", errCorruptLayer, name, err)
		}
		out[string(name)] = body
	}
	return out, nil
}

// BuildLayerPlan groups prefixes, in order, into layers of roughly
// LayerSoftMax bytes. A small layer may grow to twice that before it is
// cut.
func BuildLayerPlan(sizes map[string]int64) [][]string {
	var (
		layers  [][]string
		current []string
		size    int64
	)
	for _, prefix := range slices.Sorted(maps.Keys(sizes)) {
		n := sizes[prefix]
		switch {
		case len(current) == 0:
			current, size = []string{prefix}, n
		case size+n <= LayerSoftMax, size < LayerMinSize && size+n <= 2*LayerSoftMax:
			current = append(current, prefix)
			size += n
		default:
			layers = append(layers, current)
			current, size = []string{prefix}, n
		}
	}
	if len(current) > 0 {
		layers = append(layers, current)
	}
	return layers
}

func collect(prefixes []string, byPrefix map[string]map[string][]byte) map[string][]byte {
	out := make(map[string][]byte)
	for _, p := range prefixes {
		maps.Copy(out, byPrefix[p])
	}
	return out
}
