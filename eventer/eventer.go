// Package eventer delivers TCP state-change events to the tcp-audit host,
// captured either by the kernel program in bpf/bpf.c (loaded with libbpfgo or
// cilium/ebpf) or by the Go probe reading the tracepoint through perf.
package eventer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jhwbarlow/tcp-audit-common/pkg/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jhwbarlow/tcp-audit-probe/internal/config"
	"github.com/jhwbarlow/tcp-audit-probe/internal/logger"
	"github.com/jhwbarlow/tcp-audit-probe/probe"
)

var ErrEventerClosed = errors.New("read from closed eventer")

type Eventer struct {
	id                  uuid.UUID
	log                 *logrus.Entry
	deserialiser        deserialiser
	droppedEventHandler droppedEventHandler
	runner              runner
	metrics             *metrics

	done      chan struct{}
	closeOnce sync.Once
}

// New starts an eventer with the backend selected in cfg. Metrics are
// registered on reg, labelled with the eventer's id; reg may be nil.
func New(cfg *config.Config, reg prometheus.Registerer) (*Eventer, error) {
	id := uuid.New()
	log := logger.Log.WithFields(logrus.Fields{
		"eventer_id": id.String(),
		"backend":    cfg.Backend,
	})

	if reg != nil {
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"eventer_id": id.String()}, reg)
	}
	metrics, err := newMetrics(reg, cfg.Backend)
	if err != nil {
		return nil, err
	}

	runner, err := newRunner(cfg, log)
	if err != nil {
		metrics.unregister()
		return nil, err
	}

	deserialiser := newCStructDeserialiser(binary.NativeEndian)
	droppedEventHandler := newLoggingDroppedEventHandler(log, metrics)

	return newEventer(id, log, deserialiser, runner, droppedEventHandler, metrics)
}

func newRunner(cfg *config.Config, log *logrus.Entry) (runner, error) {
	objectLoader := newFallbackBPFObjectLoader(new(embeddedBPFObjectLoader),
		newFileBPFObjectLoader(cfg.BPFObjectPath))

	switch cfg.Backend {
	case config.BackendLibBPFGo, config.BackendCilium:
		// The kernel program picks its layout itself; this is for the logs.
		if version, err := probe.HostKernelVersion(); err == nil {
			log.WithFields(logrus.Fields{
				"kernel_version": version,
				"layout":         probe.SelectLayout(version).Name(),
			}).Info("Expecting tracepoint layout")
		}

		if cfg.Backend == config.BackendCilium {
			return newCiliumRunner(cfg.EventChannelSize,
				cfg.DroppedEventsChannelSize,
				cfg.PerfBufferPages,
				objectLoader), nil
		}

		return newLibbpfgoRunner(cfg.EventChannelSize,
			cfg.DroppedEventsChannelSize,
			cfg.PerfBufferPages,
			newLibbpfgoObjectOpener(objectLoader)), nil
	case config.BackendPerf:
		version := cfg.KernelVersion
		if version == 0 {
			var err error
			if version, err = probe.HostKernelVersion(); err != nil {
				return nil, fmt.Errorf("detecting kernel version: %w", err)
			}
		}

		log.WithFields(logrus.Fields{
			"kernel_version": version,
			"layout":         probe.SelectLayout(version).Name(),
		}).Info("Decoding tracepoint in user space")

		return newPerfRunner(cfg.EventChannelSize,
			cfg.DroppedEventsChannelSize,
			cfg.PerfBufferPages,
			version,
			newTracefsPerfEventSource(cfg.TracefsPath),
			newProcfsCommResolver()), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}

func newEventer(id uuid.UUID,
	log *logrus.Entry,
	deserialiser deserialiser,
	runner runner,
	droppedEventHandler droppedEventHandler,
	metrics *metrics) (*Eventer, error) {
	if err := runner.run(); err != nil {
		metrics.unregister()
		return nil, fmt.Errorf("starting event capture: %w", err)
	}
	log.Info("Eventer started")

	return &Eventer{
		id:                  id,
		log:                 log,
		deserialiser:        deserialiser,
		runner:              runner,
		droppedEventHandler: droppedEventHandler,
		metrics:             metrics,

		done: make(chan struct{}), // Closed by Close() so that Event() stops reading from the runner
	}, nil
}

func (e *Eventer) ID() string { return e.id.String() }

// Event blocks until the next TCP state-change event is available.
func (e *Eventer) Event() (*event.Event, error) {
	for {
		select {
		case <-e.done:
			return nil, ErrEventerClosed
		default:
		}

		select {
		case <-e.done:
			return nil, ErrEventerClosed
		case eventData, ok := <-e.runner.eventChannel():
			if !ok { // The runner may be closed by Close() while Event() is waiting
				return nil, ErrEventerClosed
			}

			event, err := e.deserialiser.toEvent(eventData)
			if err != nil {
				e.metrics.deserialiseFailed()
				return nil, fmt.Errorf("deserialising event: %w", err)
			}

			e.metrics.eventDelivered()
			return event, nil
		case droppedEventsCount, ok := <-e.runner.droppedEventCountChannel():
			if !ok {
				return nil, ErrEventerClosed
			}

			if err := e.droppedEventHandler.handle(droppedEventsCount); err != nil {
				// Go around again to find an event that was not dropped.
				e.log.WithError(err).Error("Handling dropped events")
			}
		}
	}
}

// Close stops capture and withdraws the eventer's metrics. Calling it more
// than once is harmless.
func (e *Eventer) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done) // Makes Event() return ErrEventerClosed
		e.metrics.unregister()

		if closeErr := e.runner.close(); closeErr != nil {
			err = fmt.Errorf("closing runner: %w", closeErr)
			return
		}
		e.log.Info("Eventer closed")
	})

	return err
}
