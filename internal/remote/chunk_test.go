package remote

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackLayer_RoundTrip(t *testing.T) {
	files := map[string][]byte{
		"0cc175b9c0f1b6a831c399e269772661": []byte("a"),
		"empty":                            {},
		"b":                                bytes.Repeat([]byte{0xff}, 1000),
	}

	got, err := UnpackLayer(PackLayer(files))
	require.NoError(t, err)
	assert.Equal(t, files, got)
}

func TestPackLayer_Deterministic(t *testing.T) {
	files := map[string][]byte{"x": []byte("1"), "y": []byte("2"), "z": []byte("3")}
	assert.Equal(t, PackLayer(files), PackLayer(files))
}

func TestUnpackLayer_Truncated(t *testing.T) {
	packed := PackLayer(map[string][]byte{"name": []byte("payload")})

	for _, n := range []int{1, 3, 10, len(packed) - 1} {
		_, err := UnpackLayer(packed[:n])
		assert.ErrorIs(t, err, errCorruptLayer, "cut at %d", n)
	}
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "0c", Prefix("0cc175b9"))
	assert.Equal(t, "a", Prefix("a"))
}

func TestPrefixHash(t *testing.T) {
	a := map[string][]byte{"aa1": []byte("one"), "aa2": []byte("two")}
	b := map[string][]byte{"aa1": []byte("one"), "aa2": []byte("TWO")}

	assert.Equal(t, PrefixHash(a), PrefixHash(map[string][]byte{"aa2": []byte("two"), "aa1": []byte("one")}))
	assert.NotEqual(t, PrefixHash(a), PrefixHash(b), "same sizes, different bytes")
	assert.Empty(t, PrefixHash(nil))
}

func TestGroupByPrefix(t *testing.T) {
	got := GroupByPrefix(map[string][]byte{"aa1": nil, "aa2": nil, "bb1": nil})
	assert.Len(t, got, 2)
	assert.Len(t, got["aa"], 2)
	assert.Len(t, got["bb"], 1)
}

func TestBuildLayerPlan(t *testing.T) {
	t.Run("small prefixes share a layer", func(t *testing.T) {
		plan := BuildLayerPlan(map[string]int64{"00": 10, "01": 20, "02": 30})
		assert.Equal(t, [][]string{{"00", "01", "02"}}, plan)
	})

	t.Run("large prefixes split", func(t *testing.T) {
		plan := BuildLayerPlan(map[string]int64{
			"00": LayerSoftMax,
			"01": LayerSoftMax - 1,
			"02": 1,
		})
		assert.Equal(t, [][]string{{"00"}, {"01", "02"}}, plan)
	})

	t.Run("undersized layer absorbs a neighbour", func(t *testing.T) {
		plan := BuildLayerPlan(map[string]int64{"00": 1, "01": LayerSoftMax})
		assert.Equal(t, [][]string{{"00", "01"}}, plan)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, BuildLayerPlan(nil))
	})
}
