package eventer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/jhwbarlow/tcp-audit-probe/internal/logger"
	"github.com/jhwbarlow/tcp-audit-probe/internal/perfevent"
	"github.com/jhwbarlow/tcp-audit-probe/probe"
)

// How long a capture goroutine waits on its ring before checking for close.
const perfPollInterval = 100 * time.Millisecond

var errNoOnlineCPUs = errors.New("no online CPUs")

// PerfEvent is an interface which describes a tracepoint perf event on one CPU.
type perfEvent interface {
	CPU() int
	Wait(timeout time.Duration) (bool, error)
	Drain(onSample func(perfevent.Sample), onLost func(count uint64)) error
	Close() error
}

// PerfEventSource is an interface which describes where perf events come from.
type perfEventSource interface {
	tracepointID(group, name string) (uint64, error)
	onlineCPUs() ([]int, error)
	open(tracepointID uint64, cpu, pages int) (perfEvent, error)
}

// TracefsPerfEventSource opens real perf events, finding tracepoints in tracefs.
type tracefsPerfEventSource struct {
	tracefsPath string
}

func newTracefsPerfEventSource(tracefsPath string) *tracefsPerfEventSource {
	return &tracefsPerfEventSource{tracefsPath}
}

func (s *tracefsPerfEventSource) tracepointID(group, name string) (uint64, error) {
	return perfevent.TracepointID(s.tracefsPath, group, name)
}

func (*tracefsPerfEventSource) onlineCPUs() ([]int, error) {
	return perfevent.OnlineCPUs()
}

func (*tracefsPerfEventSource) open(tracepointID uint64, cpu, pages int) (perfEvent, error) {
	return perfevent.Open(tracepointID, cpu, pages)
}

// CommResolver is an interface which describes lookups of a task's command name.
type commResolver interface {
	comm(tid uint32) string
}

type procfsCommResolver struct {
	fs  procfs.FS
	err error
}

func newProcfsCommResolver() *procfsCommResolver {
	fs, err := procfs.NewDefaultFS()
	return &procfsCommResolver{fs: fs, err: err}
}

// Comm returns "" if the task has already gone.
func (r *procfsCommResolver) comm(tid uint32) string {
	if r.err != nil || tid == 0 {
		return ""
	}

	proc, err := r.fs.Proc(int(tid))
	if err != nil {
		return ""
	}

	comm, err := proc.Comm()
	if err != nil {
		return ""
	}

	return comm
}

// TaskEnv is the probe environment of one perf sample. Kernel memory cannot
// be read from user space, so the socket ownership fields of its records are
// always zero.
type taskEnv struct {
	pid, tid uint32
	comms    commResolver
}

func (e *taskEnv) PidTgid() uint64 {
	return uint64(e.pid)<<32 | uint64(e.tid)
}

func (e *taskEnv) Comm(dst *[probe.CommLen]byte) {
	*dst = [probe.CommLen]byte{}
	copy(dst[:probe.CommLen-1], e.comms.comm(e.tid))
}

func (*taskEnv) Memory() probe.KernelMemory { return nil }

// PerfRunner reads the raw tracepoint through perf and decodes it with the
// Go probe, for hosts where no BPF object can be loaded. Each CPU gets its own
// perf ring, capture goroutine and probe output queue.
type perfRunner struct {
	runnerChannels

	ringPages     int
	kernelVersion probe.KernelVersion
	source        perfEventSource
	comms         commResolver

	events []perfEvent
	queues *probe.PerCPUQueues
	probe  *probe.Probe

	done                 chan struct{}
	captureWG, forwardWG sync.WaitGroup
}

func newPerfRunner(eventChannelSize int,
	droppedChannelSize int,
	ringPages int,
	kernelVersion probe.KernelVersion,
	source perfEventSource,
	comms commResolver) *perfRunner {
	return &perfRunner{
		runnerChannels: newRunnerChannels(eventChannelSize, droppedChannelSize),
		ringPages:      ringPages,
		kernelVersion:  kernelVersion,
		source:         source,
		comms:          comms,
		done:           make(chan struct{}),
	}
}

func (r *perfRunner) run() error {
	group, name := splitTracepoint(tcpStateChangeTracepointName)
	id, err := r.source.tracepointID(group, name)
	if err != nil {
		return fmt.Errorf("finding tracepoint: %w", err)
	}

	cpus, err := r.source.onlineCPUs()
	if err != nil {
		return fmt.Errorf("listing CPUs: %w", err)
	}
	if len(cpus) == 0 {
		return errNoOnlineCPUs
	}

	maxCPU := 0
	for _, cpu := range cpus {
		if cpu > maxCPU {
			maxCPU = cpu
		}
	}

	for _, cpu := range cpus {
		event, err := r.source.open(id, cpu, r.ringPages)
		if err != nil {
			r.closeEvents()
			return fmt.Errorf("opening perf event: %w", err)
		}
		r.events = append(r.events, event)
	}

	r.queues = probe.NewPerCPUQueues(maxCPU+1, r.eventChannelSize)
	r.probe = probe.New(r.kernelVersion, r.queues.CPUs(), r.queues)
	r.makeChannels()

	for _, event := range r.events {
		r.captureWG.Add(1)
		go r.capture(event)
	}
	for cpu := 0; cpu < r.queues.CPUs(); cpu++ {
		r.forwardWG.Add(1)
		go r.forward(cpu)
	}

	return nil
}

// capture runs the probe over every sample from one CPU's ring.
func (r *perfRunner) capture(event perfEvent) {
	defer r.captureWG.Done()

	cpu := event.CPU()
	log := logger.Log.WithField("cpu", cpu)
	env := &taskEnv{comms: r.comms}
	var pendingDropped uint64

	for {
		select {
		case <-r.done:
			return
		default:
		}

		ready, err := event.Wait(perfPollInterval)
		if err != nil {
			log.WithError(err).Error("Waiting for perf samples, stopping capture on this CPU")
			return
		}

		if ready {
			err = event.Drain(func(sample perfevent.Sample) {
				env.pid, env.tid = sample.PID, sample.TID
				r.probe.Handle(env, cpu, sample.Raw)
			}, func(count uint64) {
				pendingDropped += count
			})
			if err != nil {
				log.WithError(err).Debug("Skipping malformed perf record")
			}
		}

		// A quiet ring still has to report what was dropped before it went quiet.
		pendingDropped = r.reportDropped(cpu, pendingDropped)
	}
}

// reportDropped adds the records lost from the queue of cpu to pending and tries
// to hand the total to the consumer. It returns what is still unreported.
func (r *perfRunner) reportDropped(cpu int, pending uint64) uint64 {
	pending += r.queues.TakeLost(cpu)
	if pending == 0 {
		return 0
	}

	// Never wait on the consumer here; try again on the next poll.
	select {
	case r.droppedEventCountChan <- pending:
		return 0
	default:
		return pending
	}
}

// forward moves one CPU's probe output onto the shared event channel.
func (r *perfRunner) forward(cpu int) {
	defer r.forwardWG.Done()

	for record := range r.queues.Queue(cpu) {
		eventData := make([]byte, probe.RecordSize)
		copy(eventData, record[:])

		select {
		case r.eventChan <- eventData:
		case <-r.done:
			return
		}
	}
}

// Close stops capturing on every CPU and releases the perf rings.
func (r *perfRunner) close() error {
	logger.Log.Debug("Closing perf events")
	close(r.done)

	// Capture must stop before the probe's queues can be closed.
	r.captureWG.Wait()
	err := r.closeEvents()
	if r.queues != nil {
		r.queues.Close()
	}
	r.forwardWG.Wait()

	return err
}

func (r *perfRunner) closeEvents() error {
	var errs []error
	for _, event := range r.events {
		if err := event.Close(); err != nil {
			errs = append(errs, fmt.Errorf("CPU %d: %w", event.CPU(), err))
		}
	}
	r.events = nil

	return errors.Join(errs...)
}
