package probe

import "encoding/binary"

// Address family and transport protocol accepted by the decoders.
const (
	afInet     = 2 // AF_INET, sys/socket.h
	ipProtoTCP = 6 // IPPROTO_TCP, netinet/in.h
)

// Every tracepoint context starts with struct trace_entry.
const traceEntrySize = 8

// transition is the shape-independent view of one inet_sock_set_state
// context. It lives on the stack of a single invocation.
type transition struct {
	skaddr   uint64
	oldState int32
	newState int32
	sport    uint16
	dport    uint16
	family   uint16
	protocol uint16
	saddr    [4]byte
	daddr    [4]byte
}

// Layout is one of the physical shapes of the inet_sock_set_state context.
// The set of layouts is closed: LegacyShape and CurrentShape.
type Layout interface {
	// Name identifies the layout in logs.
	Name() string

	// Size is the minimum number of context bytes the layout reads.
	Size() int

	// Decode fills rec from ctx and reports whether the transition was an
	// IPv4 TCP one. A rejected context leaves rec untouched.
	Decode(ctx []byte, order binary.ByteOrder, env Env, rec *Record) bool

	transition(ctx []byte, order binary.ByteOrder) (transition, bool)
}

// SelectLayout returns the layout the running kernel's tracepoint uses.
func SelectLayout(version KernelVersion) Layout {
	if version >= CurrentShapeMinVersion {
		return CurrentShape
	}

	return LegacyShape
}

var (
	LegacyShape  Layout = legacyShape{}
	CurrentShape Layout = currentShape{}
)

// legacyShape is the context of kernels before 5.6, where protocol is a
// single byte and the addresses follow it unaligned.
type legacyShape struct{}

const (
	legacyOffSkaddr   = traceEntrySize
	legacyOffOldState = legacyOffSkaddr + 8
	legacyOffNewState = legacyOffOldState + 4
	legacyOffSport    = legacyOffNewState + 4
	legacyOffDport    = legacyOffSport + 2
	legacyOffFamily   = legacyOffDport + 2
	legacyOffProtocol = legacyOffFamily + 2
	legacyOffSaddr    = legacyOffProtocol + 1
	legacyOffDaddr    = legacyOffSaddr + 4
	legacyOffSaddrV6  = legacyOffDaddr + 4
	legacyOffDaddrV6  = legacyOffSaddrV6 + 16
	legacySize        = legacyOffDaddrV6 + 16
)

func (legacyShape) Name() string { return "legacy" }
func (legacyShape) Size() int    { return legacySize }

func (s legacyShape) Decode(ctx []byte, order binary.ByteOrder, env Env, rec *Record) bool {
	t, ok := s.transition(ctx, order)
	return ok && fill(&t, env, rec)
}

func (legacyShape) transition(ctx []byte, order binary.ByteOrder) (t transition, ok bool) {
	if len(ctx) < legacySize {
		return t, false
	}

	t.skaddr = order.Uint64(ctx[legacyOffSkaddr:])
	t.oldState = int32(order.Uint32(ctx[legacyOffOldState:]))
	t.newState = int32(order.Uint32(ctx[legacyOffNewState:]))
	t.sport = order.Uint16(ctx[legacyOffSport:])
	t.dport = order.Uint16(ctx[legacyOffDport:])
	t.family = order.Uint16(ctx[legacyOffFamily:])
	t.protocol = uint16(ctx[legacyOffProtocol])
	copy(t.saddr[:], ctx[legacyOffSaddr:])
	copy(t.daddr[:], ctx[legacyOffDaddr:])

	return t, true
}

// currentShape is the context of kernels from 5.6 on, where protocol widened
// to 16 bits and pushed the addresses along by one byte.
type currentShape struct{}

const (
	currentOffSkaddr   = traceEntrySize
	currentOffOldState = currentOffSkaddr + 8
	currentOffNewState = currentOffOldState + 4
	currentOffSport    = currentOffNewState + 4
	currentOffDport    = currentOffSport + 2
	currentOffFamily   = currentOffDport + 2
	currentOffProtocol = currentOffFamily + 2
	currentOffSaddr    = currentOffProtocol + 2
	currentOffDaddr    = currentOffSaddr + 4
	currentOffSaddrV6  = currentOffDaddr + 4
	currentOffDaddrV6  = currentOffSaddrV6 + 16
	currentSize        = currentOffDaddrV6 + 16
)

func (currentShape) Name() string { return "current" }
func (currentShape) Size() int    { return currentSize }

func (s currentShape) Decode(ctx []byte, order binary.ByteOrder, env Env, rec *Record) bool {
	t, ok := s.transition(ctx, order)
	return ok && fill(&t, env, rec)
}

func (currentShape) transition(ctx []byte, order binary.ByteOrder) (t transition, ok bool) {
	if len(ctx) < currentSize {
		return t, false
	}

	t.skaddr = order.Uint64(ctx[currentOffSkaddr:])
	t.oldState = int32(order.Uint32(ctx[currentOffOldState:]))
	t.newState = int32(order.Uint32(ctx[currentOffNewState:]))
	t.sport = order.Uint16(ctx[currentOffSport:])
	t.dport = order.Uint16(ctx[currentOffDport:])
	t.family = order.Uint16(ctx[currentOffFamily:])
	t.protocol = order.Uint16(ctx[currentOffProtocol:])
	copy(t.saddr[:], ctx[currentOffSaddr:])
	copy(t.daddr[:], ctx[currentOffDaddr:])

	return t, true
}

// fill is the decode contract shared by every layout: filter, zero, populate.
func fill(t *transition, env Env, rec *Record) bool {
	if t.family != afInet || t.protocol != ipProtoTCP {
		return false
	}

	// rec may be a reused slot; nothing from a previous event may survive.
	*rec = Record{}

	rec.PID = uint32(env.PidTgid() >> 32)
	env.Comm(&rec.Comm)
	rec.SrcAddr = t.saddr
	rec.DstAddr = t.daddr
	rec.SrcPort = t.sport
	rec.DstPort = t.dport
	rec.OldState = t.oldState
	rec.NewState = t.newState
	rec.SockAddr = t.skaddr

	owner := readSockOwner(env.Memory(), t.skaddr)
	rec.SockState = owner.state
	rec.SockInode = owner.ino
	rec.SockUID = owner.uid
	rec.SockGID = owner.gid

	return true
}
