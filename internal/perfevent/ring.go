package perfevent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// perf_event_header: u32 type, u16 misc, u16 size.
const headerSize = 8

var ErrMalformedRecord = errors.New("malformed perf record")

// Sample is a PERF_RECORD_SAMPLE taken with
// PERF_SAMPLE_TID | PERF_SAMPLE_CPU | PERF_SAMPLE_RAW.
type Sample struct {
	PID uint32
	TID uint32
	CPU uint32

	// Raw is the tracepoint context. It aliases the ring's scratch space and
	// is only valid until the handler returns.
	Raw []byte
}

// ring reads records out of the data pages of a perf mmap. The kernel moves
// Data_head forward as it writes; we move Data_tail forward as we consume.
type ring struct {
	meta    *unix.PerfEventMmapPage
	data    []byte
	scratch []byte
}

func newRing(meta *unix.PerfEventMmapPage, data []byte) *ring {
	return &ring{
		meta:    meta,
		data:    data,
		scratch: make([]byte, 1<<16), // perf_event_header.size is 16 bits
	}
}

// drain passes every complete record to handle, then releases them to the
// kernel. It returns the number of records read.
func (r *ring) drain(handle func(typ uint32, body []byte)) int {
	head := atomic.LoadUint64(&r.meta.Data_head)
	tail := atomic.LoadUint64(&r.meta.Data_tail)

	n := 0
	for head-tail >= headerSize {
		var hdr [headerSize]byte
		r.copyOut(hdr[:], tail)

		typ := binary.NativeEndian.Uint32(hdr[0:])
		size := uint64(binary.NativeEndian.Uint16(hdr[6:]))
		if size < headerSize {
			// Unparseable; skip everything the kernel has written so far.
			tail = head
			break
		}
		if size > head-tail {
			break
		}

		body := r.scratch[:size-headerSize]
		r.copyOut(body, tail+headerSize)
		handle(typ, body)

		tail += size
		n++
	}

	atomic.StoreUint64(&r.meta.Data_tail, tail)
	return n
}

// copyOut copies len(dst) bytes starting at the ring position pos,
// wrapping around the end of the data pages.
func (r *ring) copyOut(dst []byte, pos uint64) {
	start := int(pos % uint64(len(r.data)))
	n := copy(dst, r.data[start:])
	copy(dst[n:], r.data)
}

func parseSample(body []byte) (Sample, error) {
	// u32 pid, tid; u32 cpu, res; u32 size; char data[size]
	const fixed = 20
	if len(body) < fixed {
		return Sample{}, fmt.Errorf("%w: sample of %d bytes", ErrMalformedRecord, len(body))
	}

	s := Sample{
		PID: binary.NativeEndian.Uint32(body[0:]),
		TID: binary.NativeEndian.Uint32(body[4:]),
		CPU: binary.NativeEndian.Uint32(body[8:]),
	}

	size := int(binary.NativeEndian.Uint32(body[16:]))
	if size > len(body)-fixed {
		return Sample{}, fmt.Errorf("%w: raw size %d overruns sample of %d bytes", ErrMalformedRecord, size, len(body))
	}
	s.Raw = body[fixed : fixed+size]

	return s, nil
}

func parseLost(body []byte) (uint64, error) {
	// u64 id; u64 lost
	if len(body) < 16 {
		return 0, fmt.Errorf("%w: lost record of %d bytes", ErrMalformedRecord, len(body))
	}

	return binary.NativeEndian.Uint64(body[8:]), nil
}
