package blefs

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Opcode is the leading byte of every inbound frame.
type Opcode byte

const (
	OpEcho Opcode = iota
	OpUpload
	OpDelete
	OpList
	OpDownload
)

func (o Opcode) String() string {
	switch o {
	case OpEcho:
		return "echo"
	case OpUpload:
		return "upload"
	case OpDelete:
		return "delete"
	case OpList:
		return "list"
	case OpDownload:
		return "download"
	default:
		return fmt.Sprintf("opcode(%d)", byte(o))
	}
}

const (
	HashSize   = md5.Size
	headerSize = HashSize + 4 // hash + big-endian uint32 size
)

// Hash is the 16-byte content hash a peer names files by.
type Hash [HashSize]byte

// HashOf returns the hash peers compute for content (MD5).
func HashOf(content []byte) Hash {
	return md5.Sum(content)
}

// ParseHash decodes a 32-character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(HashSize) {
		return h, fmt.Errorf("hash must be %d hex characters, got %d", 2*HashSize, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

// String returns the lowercase hex form, which is also the stored file name.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Request is one decoded inbound frame. The set of implementations is
// closed: EchoRequest, UploadRequest, DeleteRequest, ListRequest and
// DownloadRequest.
type Request interface {
	Opcode() Opcode

	// MarshalBinary encodes the request as a wire frame.
	MarshalBinary() ([]byte, error)

	appendPayload(b []byte) []byte
}

// EchoRequest asks the peripheral to notify Data back unchanged.
type EchoRequest struct {
	Data []byte
}

// UploadRequest stores Content under the hex form of Hash.
type UploadRequest struct {
	Hash    Hash
	Size    uint32 // declared content length
	Content []byte
}

// DeleteRequest removes the file named by Hash if its size is Size.
type DeleteRequest struct {
	Hash Hash
	Size uint32 // expected stored size
}

// ListRequest asks for every stored file as "name,size" pairs.
type ListRequest struct{}

// DownloadRequest asks for the contents of the file called Name.
type DownloadRequest struct {
	Name string
}

// NewUploadRequest builds an upload whose hash and size match content.
func NewUploadRequest(content []byte) UploadRequest {
	return UploadRequest{Hash: HashOf(content), Size: uint32(len(content)), Content: content}
}

func (EchoRequest) Opcode() Opcode     { return OpEcho }
func (UploadRequest) Opcode() Opcode   { return OpUpload }
func (DeleteRequest) Opcode() Opcode   { return OpDelete }
func (ListRequest) Opcode() Opcode     { return OpList }
func (DownloadRequest) Opcode() Opcode { return OpDownload }

func (r EchoRequest) MarshalBinary() ([]byte, error)     { return encode(r), nil }
func (r UploadRequest) MarshalBinary() ([]byte, error)   { return encode(r), nil }
func (r DeleteRequest) MarshalBinary() ([]byte, error)   { return encode(r), nil }
func (r ListRequest) MarshalBinary() ([]byte, error)     { return encode(r), nil }
func (r DownloadRequest) MarshalBinary() ([]byte, error) { return encode(r), nil }

func (r EchoRequest) appendPayload(b []byte) []byte {
	return append(b, r.Data...)
}

func (r UploadRequest) appendPayload(b []byte) []byte {
	b = append(b, r.Hash[:]...)
	b = binary.BigEndian.AppendUint32(b, r.Size)
	return append(b, r.Content...)
}

func (r DeleteRequest) appendPayload(b []byte) []byte {
	b = append(b, r.Hash[:]...)
	return binary.BigEndian.AppendUint32(b, r.Size)
}

func (ListRequest) appendPayload(b []byte) []byte {
	return b
}

func (r DownloadRequest) appendPayload(b []byte) []byte {
	return append(b, r.Name...)
}

func encode(r Request) []byte {
	return r.appendPayload([]byte{byte(r.Opcode())})
}

// DecodeRequest parses one inbound frame. Unknown opcodes fail with
// ErrUnknownOpcode and short or mis-sized payloads with
// ErrMalformedRequest, so no handler ever sees a bad frame.
//
// The returned request aliases frame.
func DecodeRequest(frame []byte) (Request, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedRequest)
	}

	op, payload := Opcode(frame[0]), frame[1:]
	switch op {
	case OpEcho:
		return EchoRequest{Data: payload}, nil

	case OpUpload:
		if len(payload) < headerSize {
			return nil, fmt.Errorf("%w: upload needs at least %d bytes, got %d", ErrMalformedRequest, headerSize, len(payload))
		}
		r := UploadRequest{
			Size:    binary.BigEndian.Uint32(payload[HashSize:headerSize]),
			Content: payload[headerSize:],
		}
		copy(r.Hash[:], payload[:HashSize])
		return r, nil

	case OpDelete:
		if len(payload) != headerSize {
			return nil, fmt.Errorf("%w: delete needs exactly %d bytes, got %d", ErrMalformedRequest, headerSize, len(payload))
		}
		r := DeleteRequest{Size: binary.BigEndian.Uint32(payload[HashSize:])}
		copy(r.Hash[:], payload[:HashSize])
		return r, nil

	case OpList:
		return ListRequest{}, nil

	case OpDownload:
		return DownloadRequest{Name: string(payload)}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, byte(op))
	}
}
