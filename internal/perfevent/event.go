// Package perfevent reads tracepoint samples through perf_event_open(2),
// one event and one ring buffer per CPU.
package perfevent

import (
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var ErrInvalidPageCount = errors.New("ring size must be a power of two number of pages")

// Event is a tracepoint perf event bound to a single CPU.
type Event struct {
	cpu  int
	fd   int
	mmap []byte
	ring *ring
}

// Open starts sampling every hit of the tracepoint with the given id on
// cpu into a ring of pages data pages.
func Open(tracepointID uint64, cpu, pages int) (*Event, error) {
	if pages <= 0 || pages&(pages-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageCount, pages)
	}

	attr := unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_TRACEPOINT,
		Config:      tracepointID,
		Sample:      1,
		Sample_type: unix.PERF_SAMPLE_TID | unix.PERF_SAMPLE_CPU | unix.PERF_SAMPLE_RAW,
		Wakeup:      1,
		Bits:        unix.PerfBitDisabled,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))

	fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("opening perf event on CPU %d: %w", cpu, err)
	}

	pageSize := os.Getpagesize()
	mmap, err := unix.Mmap(fd, 0, pageSize*(pages+1), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mapping perf ring on CPU %d: %w", cpu, err)
	}

	meta := (*unix.PerfEventMmapPage)(unsafe.Pointer(&mmap[0]))
	dataOffset, dataSize := uint64(pageSize), uint64(pageSize*pages)
	if meta.Data_offset != 0 {
		dataOffset, dataSize = meta.Data_offset, meta.Data_size
	}

	e := &Event{
		cpu:  cpu,
		fd:   fd,
		mmap: mmap,
		ring: newRing(meta, mmap[dataOffset:dataOffset+dataSize]),
	}

	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		e.Close()
		return nil, fmt.Errorf("enabling perf event on CPU %d: %w", cpu, err)
	}

	return e, nil
}

func (e *Event) CPU() int { return e.cpu }

// Wait blocks until the ring has data or the timeout passes.
func (e *Event) Wait(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}

	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("polling perf event on CPU %d: %w", e.cpu, err)
	}

	return n > 0, nil
}

// Drain hands every pending sample to onSample and every lost-records notice
// to onLost. Records of other types are skipped.
func (e *Event) Drain(onSample func(Sample), onLost func(count uint64)) error {
	var firstErr error

	e.ring.drain(func(typ uint32, body []byte) {
		switch typ {
		case unix.PERF_RECORD_SAMPLE:
			sample, err := parseSample(body)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			onSample(sample)
		case unix.PERF_RECORD_LOST:
			lost, err := parseLost(body)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			onLost(lost)
		}
	})

	return firstErr
}

// Close disables the event and releases the ring.
func (e *Event) Close() error {
	_ = unix.IoctlSetInt(e.fd, unix.PERF_EVENT_IOC_DISABLE, 0)

	var errs []error
	if err := unix.Munmap(e.mmap); err != nil {
		errs = append(errs, fmt.Errorf("unmapping perf ring: %w", err))
	}
	if err := unix.Close(e.fd); err != nil {
		errs = append(errs, fmt.Errorf("closing perf event: %w", err))
	}

	return errors.Join(errs...)
}
