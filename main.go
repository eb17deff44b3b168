// The tcp-audit-probe plugin is loaded by tcp-audit, which calls New to
// obtain its source of TCP state-change events.
//
// All configuration comes from TCP_AUDIT_PROBE_* environment variables.
package main

import (
	"errors"

	"github.com/jhwbarlow/tcp-audit-common/pkg/event"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jhwbarlow/tcp-audit-probe/eventer"
	"github.com/jhwbarlow/tcp-audit-probe/internal/config"
	"github.com/jhwbarlow/tcp-audit-probe/internal/logger"
	"github.com/jhwbarlow/tcp-audit-probe/internal/metrics"
)

// pluginEventer also owns the metrics server, if one was configured.
type pluginEventer struct {
	*eventer.Eventer
	metricsServer *metrics.Server
}

func New() (event.Eventer, error) {
	cfg, err := config.FromEnvironment()
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.LogLevel)

	e, err := eventer.New(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	if cfg.MetricsAddress == "" {
		return e, nil
	}

	server, err := metrics.Serve(cfg.MetricsAddress, prometheus.DefaultGatherer)
	if err != nil {
		e.Close()
		return nil, err
	}

	return &pluginEventer{e, server}, nil
}

func (p *pluginEventer) Close() error {
	return errors.Join(p.Eventer.Close(), p.metricsServer.Close())
}
