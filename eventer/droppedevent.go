package eventer

import "github.com/sirupsen/logrus"

// DroppedEventHandler is an interface which describes objects which handle
// records lost because a kernel or probe buffer was full.
type droppedEventHandler interface {
	handle(droppedEventsCount uint64) error
}

// LoggingDroppedEventHandler logs and counts dropped records.
type loggingDroppedEventHandler struct {
	log     *logrus.Entry
	metrics *metrics
}

func newLoggingDroppedEventHandler(log *logrus.Entry, metrics *metrics) *loggingDroppedEventHandler {
	return &loggingDroppedEventHandler{log, metrics}
}

func (h *loggingDroppedEventHandler) handle(droppedEventsCount uint64) error {
	// Nothing can bring the records back. Bigger buffers or a faster
	// consumer are the only cure, so just make the loss visible.
	h.log.WithField("count", droppedEventsCount).Warn("Dropped events occurred")
	h.metrics.eventsDropped(droppedEventsCount)

	return nil
}
