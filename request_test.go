package blefs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortUUID(t *testing.T) {
	assert.Equal(t, "00001234-0000-1000-8000-00805f9b34fb", ServiceUUID.String())
	assert.Equal(t, "00006e40-0000-1000-8000-00805f9b34fb", WriteCharUUID.String())
	assert.Equal(t, "00006e41-0000-1000-8000-00805f9b34fb", NotifyCharUUID.String())
}

func TestHash(t *testing.T) {
	h := HashOf([]byte("a"))
	assert.Equal(t, "0cc175b9c0f1b6a831c399e269772661", h.String())

	parsed, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("abc")
	assert.Error(t, err)
	_, err = ParseHash("zz" + h.String()[2:])
	assert.Error(t, err)
}

func TestEncodeUpload(t *testing.T) {
	r := NewUploadRequest([]byte("hi"))
	frame, err := r.MarshalBinary()
	require.NoError(t, err)

	require.Len(t, frame, 1+16+4+2)
	assert.Equal(t, byte(OpUpload), frame[0])
	assert.Equal(t, r.Hash[:], frame[1:17])
	assert.Equal(t, []byte{0, 0, 0, 2}, frame[17:21], "size is big-endian")
	assert.Equal(t, []byte("hi"), frame[21:])
}

func TestDecodeRequest(t *testing.T) {
	hash := HashOf([]byte("content"))

	tests := []struct {
		name  string
		frame []byte
		want  Request
	}{
		{"echo", []byte{0, 'p', 'i', 'n', 'g'}, EchoRequest{Data: []byte("ping")}},
		{"empty echo", []byte{0}, EchoRequest{Data: []byte{}}},
		{"upload", mustEncode(t, UploadRequest{Hash: hash, Size: 7, Content: []byte("content")}), UploadRequest{Hash: hash, Size: 7, Content: []byte("content")}},
		{"upload header only", mustEncode(t, UploadRequest{Hash: hash, Size: 0}), UploadRequest{Hash: hash, Size: 0, Content: []byte{}}},
		{"delete", mustEncode(t, DeleteRequest{Hash: hash, Size: 1 << 24}), DeleteRequest{Hash: hash, Size: 1 << 24}},
		{"list", []byte{3}, ListRequest{}},
		{"download", []byte{4, 'a', 'b'}, DownloadRequest{Name: "ab"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRequest(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := got.MarshalBinary()
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.frame, again), "re-encoding must be byte exact")
		})
	}
}

func TestDecodeRequest_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty frame", nil, ErrMalformedRequest},
		{"short upload", append([]byte{1}, make([]byte, 19)...), ErrMalformedRequest},
		{"short delete", append([]byte{2}, make([]byte, 19)...), ErrMalformedRequest},
		{"long delete", append([]byte{2}, make([]byte, 21)...), ErrMalformedRequest},
		{"unknown opcode", []byte{99, 1, 2, 3}, ErrUnknownOpcode},
		{"opcode five", []byte{5}, ErrUnknownOpcode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(tt.frame)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "download", OpDownload.String())
	assert.Equal(t, "opcode(99)", Opcode(99).String())
}

func mustEncode(t *testing.T, r Request) []byte {
	t.Helper()
	b, err := r.MarshalBinary()
	require.NoError(t, err)
	return b
}
