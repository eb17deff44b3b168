// Package probe captures TCP state transitions from the raw arguments of the
// sock:inet_sock_set_state tracepoint and publishes them as fixed-size
// records.
//
// It implements in Go the same contract as the kernel program in bpf/bpf.c:
// the layout of the tracepoint arguments is chosen from the kernel version,
// only IPv4 TCP transitions are kept, and every accepted transition becomes
// exactly one RecordSize-byte record on the output of the CPU it happened on.
// Handling an event never blocks and never allocates.
package probe

import "encoding/binary"

// License is the license the kernel program declares to the BPF loader.
const License = "Dual BSD/GPL"

// Probe decodes raw tracepoint contexts and publishes accepted ones.
type Probe struct {
	version KernelVersion
	order   binary.ByteOrder
	out     Output
	scratch []scratch
}

// scratch is the working space of one CPU. Handle calls for the same CPU
// must not overlap; calls for different CPUs may.
type scratch struct {
	rec  Record
	blob [RecordSize]byte
}

// New creates a Probe for a kernel of the given version that handles events
// from cpus CPUs. Contexts and records use the host byte order.
func New(version KernelVersion, cpus int, out Output) *Probe {
	return NewWithByteOrder(version, cpus, binary.NativeEndian, out)
}

func NewWithByteOrder(version KernelVersion, cpus int, order binary.ByteOrder, out Output) *Probe {
	return &Probe{
		version: version,
		order:   order,
		out:     out,
		scratch: make([]scratch, cpus),
	}
}

func (p *Probe) KernelVersion() KernelVersion { return p.version }

// Decode fills rec from ctx with the layout of the probe's kernel version.
func (p *Probe) Decode(env Env, ctx []byte, rec *Record) bool {
	return SelectLayout(p.version).Decode(ctx, p.order, env, rec)
}

// Handle processes one tracepoint firing on cpu and reports whether it was
// accepted and handed to the output. Firings on a CPU the probe was not
// built for are rejected.
func (p *Probe) Handle(env Env, cpu int, ctx []byte) bool {
	if cpu < 0 || cpu >= len(p.scratch) {
		return false
	}

	s := &p.scratch[cpu]
	if !p.Decode(env, ctx, &s.rec) {
		return false
	}

	s.rec.MarshalInto(&s.blob, p.order)
	p.out.Publish(cpu, &s.blob)

	return true
}
