package probe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// CommLen is the size of a task command name, terminator included
// (TASK_COMM_LEN in linux/sched.h).
const CommLen = 16

const (
	// RecordSize is the size of a published record, trailing padding included.
	RecordSize = 64

	// recordDataSize is the number of meaningful bytes at the start of a record.
	recordDataSize = 61
)

// Record offsets. The layout is shared with the consumer and with the kernel
// program's struct event_data and must not change.
const (
	offComm      = 0
	offSockAddr  = 16
	offPID       = 24
	offSockInode = 28
	offSockUID   = 32
	offSockGID   = 36
	offOldState  = 40
	offNewState  = 44
	offSrcPort   = 48
	offDstPort   = 50
	offSrcAddr   = 52
	offDstAddr   = 56
	offSockState = 60
)

var ErrShortRecord = errors.New("short record")

// Record is a single captured TCP state transition.
type Record struct {
	Comm      [CommLen]byte
	SockAddr  uint64
	PID       uint32
	SockInode uint32
	SockUID   uint32
	SockGID   uint32
	OldState  int32
	NewState  int32
	SrcPort   uint16
	DstPort   uint16
	SrcAddr   [4]byte
	DstAddr   [4]byte
	SockState uint8
}

// CommString returns the command name up to its first NUL.
func (r *Record) CommString() string {
	if i := bytes.IndexByte(r.Comm[:], 0); i != -1 {
		return string(r.Comm[:i])
	}

	return string(r.Comm[:])
}

// MarshalInto writes every byte of dst, padding included.
func (r *Record) MarshalInto(dst *[RecordSize]byte, order binary.ByteOrder) {
	*dst = [RecordSize]byte{}
	copy(dst[offComm:], r.Comm[:])
	order.PutUint64(dst[offSockAddr:], r.SockAddr)
	order.PutUint32(dst[offPID:], r.PID)
	order.PutUint32(dst[offSockInode:], r.SockInode)
	order.PutUint32(dst[offSockUID:], r.SockUID)
	order.PutUint32(dst[offSockGID:], r.SockGID)
	order.PutUint32(dst[offOldState:], uint32(r.OldState))
	order.PutUint32(dst[offNewState:], uint32(r.NewState))
	order.PutUint16(dst[offSrcPort:], r.SrcPort)
	order.PutUint16(dst[offDstPort:], r.DstPort)
	copy(dst[offSrcAddr:], r.SrcAddr[:])
	copy(dst[offDstAddr:], r.DstAddr[:])
	dst[offSockState] = r.SockState
}

// UnmarshalRecord decodes a record published by the kernel program or by a
// Probe. Trailing padding may be absent.
func UnmarshalRecord(data []byte, order binary.ByteOrder) (Record, error) {
	var r Record
	if len(data) < recordDataSize {
		return r, fmt.Errorf("%w: got %d bytes, need at least %d", ErrShortRecord, len(data), recordDataSize)
	}

	copy(r.Comm[:], data[offComm:])
	r.SockAddr = order.Uint64(data[offSockAddr:])
	r.PID = order.Uint32(data[offPID:])
	r.SockInode = order.Uint32(data[offSockInode:])
	r.SockUID = order.Uint32(data[offSockUID:])
	r.SockGID = order.Uint32(data[offSockGID:])
	r.OldState = int32(order.Uint32(data[offOldState:]))
	r.NewState = int32(order.Uint32(data[offNewState:]))
	r.SrcPort = order.Uint16(data[offSrcPort:])
	r.DstPort = order.Uint16(data[offDstPort:])
	copy(r.SrcAddr[:], data[offSrcAddr:])
	copy(r.DstAddr[:], data[offDstAddr:])
	r.SockState = data[offSockState]

	return r, nil
}
