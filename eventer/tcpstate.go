package eventer

import (
	"errors"
	"fmt"

	"github.com/jhwbarlow/tcp-audit-common/pkg/tcpstate"

	"github.com/jhwbarlow/tcp-audit-probe/probe"
)

var errIllegalTCPState = errors.New("illegal kernel TCP state")

// NEW_SYN_RECV is a kernel-internal request socket state; to the outside it
// is SYN-RECEIVED.
var auditStates = map[probe.TCPState]tcpstate.State{
	probe.TCPEstablished: tcpstate.StateEstablished,
	probe.TCPSynSent:     tcpstate.StateSynSent,
	probe.TCPSynRecv:     tcpstate.StateSynReceived,
	probe.TCPFinWait1:    tcpstate.StateFinWait1,
	probe.TCPFinWait2:    tcpstate.StateFinWait2,
	probe.TCPTimeWait:    tcpstate.StateTimeWait,
	probe.TCPClose:       tcpstate.StateClosed,
	probe.TCPCloseWait:   tcpstate.StateCloseWait,
	probe.TCPLastAck:     tcpstate.StateLastAck,
	probe.TCPListen:      tcpstate.StateListen,
	probe.TCPClosing:     tcpstate.StateClosing,
	probe.TCPNewSynRecv:  tcpstate.StateSynReceived,
}

func convertState(kernelState int32) (tcpstate.State, error) {
	state, ok := auditStates[probe.TCPState(kernelState)]
	if !ok {
		return tcpstate.State(""), fmt.Errorf("%w: %d", errIllegalTCPState, kernelState)
	}

	return state, nil
}
