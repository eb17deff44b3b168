package eventer

import (
	"fmt"

	"github.com/jhwbarlow/tcp-audit-probe/internal/logger"
)

// libbpfgoRunner runs the kernel program through libbpfgo. libbpfgo polls the
// perf buffer itself and delivers straight onto the runner's channels.
type libbpfgoRunner struct {
	runnerChannels

	perfBufferPages int
	opener          libbpfObjectOpener
	object          libbpfObject
}

func newLibbpfgoRunner(eventChannelSize int,
	droppedChannelSize int,
	perfBufferPages int,
	opener libbpfObjectOpener) *libbpfgoRunner {
	return &libbpfgoRunner{
		runnerChannels:  newRunnerChannels(eventChannelSize, droppedChannelSize),
		perfBufferPages: perfBufferPages,
		opener:          opener,
	}
}

// run attaches the kernel program to the TCP state-change tracepoint and
// starts its perf buffer. An object that fails part way is closed again and
// the runner is left without channels.
func (r *libbpfgoRunner) run() error {
	object, err := r.opener.open(bpfModuleName)
	if err != nil {
		return fmt.Errorf("creating BPF module: %w", err)
	}

	if err := object.attachTracepoint(tcpStateChangeBPFProgramName, tcpStateChangeTracepointName); err != nil {
		object.close()
		return err
	}

	channels := newRunnerChannels(r.eventChannelSize, r.droppedChannelSize)
	channels.makeChannels()
	if err := object.startPerfBuffer(tcpStateChangePerfBufName, &channels, r.perfBufferPages); err != nil {
		object.close()
		return fmt.Errorf("initialising perf buffer: %w", err)
	}

	r.runnerChannels = channels
	r.object = object

	return nil
}

// close unloads the kernel program. No more records arrive afterwards.
func (r *libbpfgoRunner) close() error {
	logger.Log.Debug("Closing BPF module")
	r.object.close()

	return nil
}
