package probe

import "fmt"

// TCPState is a kernel TCP state (net/tcp_states.h) as carried in the
// old and new state fields of a record.
type TCPState int32

const (
	TCPEstablished TCPState = iota + 1
	TCPSynSent
	TCPSynRecv
	TCPFinWait1
	TCPFinWait2
	TCPTimeWait
	TCPClose
	TCPCloseWait
	TCPLastAck
	TCPListen
	TCPClosing
	TCPNewSynRecv
)

var tcpStateNames = [...]string{
	TCPEstablished: "ESTABLISHED",
	TCPSynSent:     "SYN_SENT",
	TCPSynRecv:     "SYN_RECV",
	TCPFinWait1:    "FIN_WAIT1",
	TCPFinWait2:    "FIN_WAIT2",
	TCPTimeWait:    "TIME_WAIT",
	TCPClose:       "CLOSE",
	TCPCloseWait:   "CLOSE_WAIT",
	TCPLastAck:     "LAST_ACK",
	TCPListen:      "LISTEN",
	TCPClosing:     "CLOSING",
	TCPNewSynRecv:  "NEW_SYN_RECV",
}

func (s TCPState) Valid() bool {
	return s >= TCPEstablished && s <= TCPNewSynRecv
}

func (s TCPState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("TCPState(%d)", int32(s))
	}

	return tcpStateNames[s]
}
