package eventer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"

	"github.com/jhwbarlow/tcp-audit-probe/internal/logger"
)

var errMissingFromObject = errors.New("missing from BPF object")

// CiliumRunner runs the same kernel program as libbpfgoRunner, but loads
// it with the pure-Go cilium/ebpf library so no libbpf is needed at runtime.
type ciliumRunner struct {
	runnerChannels

	perfBufferPages int
	bpfObjectLoader bpfObjectLoader

	collection *ebpf.Collection
	tracepoint link.Link
	reader     *perf.Reader

	done chan struct{}
	wg   sync.WaitGroup
}

func newCiliumRunner(eventChannelSize int,
	droppedChannelSize int,
	perfBufferPages int,
	bpfObjectLoader bpfObjectLoader) *ciliumRunner {
	return &ciliumRunner{
		runnerChannels:  newRunnerChannels(eventChannelSize, droppedChannelSize),
		perfBufferPages: perfBufferPages,
		bpfObjectLoader: bpfObjectLoader,
		done:            make(chan struct{}),
	}
}

func (r *ciliumRunner) run() error {
	bpfObj, err := r.bpfObjectLoader.load()
	if err != nil {
		return fmt.Errorf("loading BPF object: %w", err)
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("removing memlock limit: %w", err)
	}

	if err := r.start(bpfObj); err != nil {
		r.release()
		return err
	}

	r.wg.Add(1)
	go r.forward()

	return nil
}

func (r *ciliumRunner) start(bpfObj []byte) error {
	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(bpfObj))
	if err != nil {
		return fmt.Errorf("parsing BPF object: %w", err)
	}

	// LINUX_KERNEL_VERSION and the CO-RE relocations are resolved here.
	r.collection, err = ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("loading BPF object into kernel: %w", err)
	}

	program, ok := r.collection.Programs[tcpStateChangeBPFProgramName]
	if !ok {
		return fmt.Errorf("loading BPF program: %q %w", tcpStateChangeBPFProgramName, errMissingFromObject)
	}

	group, name := splitTracepoint(tcpStateChangeTracepointName)
	r.tracepoint, err = link.Tracepoint(group, name, program, nil)
	if err != nil {
		return fmt.Errorf("attaching to tracepoint: %w", err)
	}

	events, ok := r.collection.Maps[tcpStateChangePerfBufName]
	if !ok {
		return fmt.Errorf("initialising perf buffer: %q %w", tcpStateChangePerfBufName, errMissingFromObject)
	}

	r.reader, err = perf.NewReader(events, r.perfBufferPages*os.Getpagesize())
	if err != nil {
		return fmt.Errorf("initialising perf buffer: %w", err)
	}

	r.makeChannels()

	return nil
}

// forward moves records from the perf reader onto the runner's channels
// until the reader is closed.
func (r *ciliumRunner) forward() {
	defer r.wg.Done()

	for {
		record, err := r.reader.Read()
		if errors.Is(err, perf.ErrClosed) {
			return
		}
		if err != nil {
			logger.Log.WithError(err).Warn("Reading perf buffer")
			continue
		}

		if record.LostSamples > 0 {
			select {
			case r.droppedEventCountChan <- record.LostSamples:
			case <-r.done:
				return
			}
			continue
		}

		select {
		case r.eventChan <- record.RawSample:
		case <-r.done:
			return
		}
	}
}

// Close detaches and unloads the kernel program.
func (r *ciliumRunner) close() error {
	logger.Log.Debug("Closing BPF collection")
	close(r.done)

	err := r.release()
	r.wg.Wait()

	return err
}

// release frees whatever start managed to set up.
func (r *ciliumRunner) release() error {
	var errs []error

	if r.reader != nil {
		if err := r.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing perf reader: %w", err))
		}
	}
	if r.tracepoint != nil {
		if err := r.tracepoint.Close(); err != nil {
			errs = append(errs, fmt.Errorf("detaching tracepoint: %w", err))
		}
	}
	if r.collection != nil {
		r.collection.Close()
	}

	return errors.Join(errs...)
}
