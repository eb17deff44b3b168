package probe

import "sync/atomic"

// Output is the channel records leave the probe through. Publish must not
// block; records it cannot take are dropped.
type Output interface {
	Publish(cpu int, rec *[RecordSize]byte)
}

// PerCPUQueues is an Output with one bounded queue per CPU. Publishers on
// different CPUs never touch the same queue, so there is no locking.
type PerCPUQueues struct {
	queues []chan [RecordSize]byte
	lost   []atomic.Uint64
}

// NewPerCPUQueues creates cpus queues each holding up to depth records.
func NewPerCPUQueues(cpus, depth int) *PerCPUQueues {
	q := &PerCPUQueues{
		queues: make([]chan [RecordSize]byte, cpus),
		lost:   make([]atomic.Uint64, cpus),
	}
	for i := range q.queues {
		q.queues[i] = make(chan [RecordSize]byte, depth)
	}

	return q
}

// Publish queues rec on the queue of cpu, or counts it as lost if that queue
// is full. Records for a CPU without a queue are dropped uncounted.
func (q *PerCPUQueues) Publish(cpu int, rec *[RecordSize]byte) {
	if cpu < 0 || cpu >= len(q.queues) {
		return
	}

	select {
	case q.queues[cpu] <- *rec:
	default:
		q.lost[cpu].Add(1)
	}
}

func (q *PerCPUQueues) CPUs() int { return len(q.queues) }

// Queue returns the receiving end of the queue of cpu.
func (q *PerCPUQueues) Queue(cpu int) <-chan [RecordSize]byte {
	return q.queues[cpu]
}

// TakeLost returns the number of records dropped on cpu since the last call.
func (q *PerCPUQueues) TakeLost(cpu int) uint64 {
	return q.lost[cpu].Swap(0)
}

// Close closes every queue. No Publish may run concurrently with or after it.
func (q *PerCPUQueues) Close() {
	for _, queue := range q.queues {
		close(queue)
	}
}
