package eventer

import "strings"

// Must match the kernel program in bpf/bpf.c
const (
	tcpStateChangePerfBufName    = "events"
	tcpStateChangeTracepointName = "sock:inet_sock_set_state"
	tcpStateChangeBPFProgramName = "tracepoint__sock_inet_sock_set_state"
	bpfModuleName                = "tcp-audit"
)

// Runner is an interface which describes the capture backends. Once running,
// a runner sends each captured record on the event channel, and the number of
// records lost to a full buffer on the dropped event count channel.
type runner interface {
	run() error
	eventChannel() <-chan []byte
	droppedEventCountChannel() <-chan uint64
	close() error
}

// runnerChannels is the delivery side every runner shares. The channels only
// exist once capture has started; before that both accessors return nil.
type runnerChannels struct {
	eventChannelSize   int
	droppedChannelSize int

	eventChan             chan []byte
	droppedEventCountChan chan uint64
}

func newRunnerChannels(eventChannelSize, droppedChannelSize int) runnerChannels {
	return runnerChannels{
		eventChannelSize:   eventChannelSize,
		droppedChannelSize: droppedChannelSize,
	}
}

func (c *runnerChannels) makeChannels() {
	c.eventChan = make(chan []byte, c.eventChannelSize)
	c.droppedEventCountChan = make(chan uint64, c.droppedChannelSize)
}

func (c *runnerChannels) eventChannel() <-chan []byte {
	return c.eventChan
}

func (c *runnerChannels) droppedEventCountChannel() <-chan uint64 {
	return c.droppedEventCountChan
}

// splitTracepoint splits "group:name".
func splitTracepoint(tracepoint string) (group, name string) {
	group, name, _ = strings.Cut(tracepoint, ":")
	return group, name
}
