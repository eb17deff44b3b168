package eventer

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jhwbarlow/tcp-audit-common/pkg/event"
	"github.com/jhwbarlow/tcp-audit-common/pkg/socketstate"

	"github.com/jhwbarlow/tcp-audit-probe/probe"
)

// Deserialiser is an interface which describes objects which convert a
// published record into an event object.
type deserialiser interface {
	toEvent(data []byte) (*event.Event, error)
}

// CStructDeserialiser converts records laid out as the kernel program's
// struct event_data.
type cStructDeserialiser struct {
	endianess binary.ByteOrder
}

func newCStructDeserialiser(endianess binary.ByteOrder) *cStructDeserialiser {
	return &cStructDeserialiser{endianess}
}

// ToEvent creates an event from a record, timestamped on receipt.
func (d *cStructDeserialiser) toEvent(eventData []byte) (*event.Event, error) {
	time := time.Now().UTC()

	record, err := probe.UnmarshalRecord(eventData, d.endianess)
	if err != nil {
		return nil, fmt.Errorf("decoding event data: %w", err)
	}

	oldState, err := convertState(record.OldState)
	if err != nil {
		return nil, fmt.Errorf("converting kernel old TCP state: %w", err)
	}

	newState, err := convertState(record.NewState)
	if err != nil {
		return nil, fmt.Errorf("converting kernel new TCP state: %w", err)
	}

	socketState, err := socketstate.FromInt(record.SockState)
	if err != nil {
		return nil, fmt.Errorf("converting socket state: %w", err)
	}

	socketInfo := &event.SocketInfo{
		ID:          strconv.FormatUint(record.SockAddr, 16),
		INode:       record.SockInode,
		UID:         record.SockUID,
		GID:         record.SockGID,
		SocketState: socketState,
	}

	return &event.Event{
		Time:         time,
		PIDOnCPU:     int(record.PID),
		CommandOnCPU: record.CommString(),
		SourceIP:     net.IPv4(record.SrcAddr[0], record.SrcAddr[1], record.SrcAddr[2], record.SrcAddr[3]),
		DestIP:       net.IPv4(record.DstAddr[0], record.DstAddr[1], record.DstAddr[2], record.DstAddr[3]),
		SourcePort:   record.SrcPort,
		DestPort:     record.DstPort,
		OldState:     oldState,
		NewState:     newState,
		SocketInfo:   socketInfo,
	}, nil
}
