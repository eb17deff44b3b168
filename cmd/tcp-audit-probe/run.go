package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jhwbarlow/tcp-audit-probe/eventer"
	"github.com/jhwbarlow/tcp-audit-probe/internal/config"
	"github.com/jhwbarlow/tcp-audit-probe/internal/logger"
	"github.com/jhwbarlow/tcp-audit-probe/internal/metrics"
)

func initRunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Captures and logs TCP state changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			return run(cfg)
		},
	}

	flags := runCmd.Flags()
	flags.StringP("backend", "b", config.BackendLibBPFGo, "capture backend (libbpfgo, cilium or perf)")
	flags.String("bpf-object", "/usr/lib/tcp-audit/bpf.o", "BPF object to load when none is embedded")
	flags.Int("perf-buffer-pages", 16, "perf buffer size per CPU, in pages")
	flags.String("kernel-version", "", "kernel release to decode the tracepoint for (perf backend, default running kernel)")
	flags.String("tracefs", "/sys/kernel/tracing", "tracefs mount point (perf backend)")
	flags.String("metrics-address", "", "address to serve Prometheus metrics on, e.g. :9090")

	bindings := map[string]string{
		config.KeyBackend:         "backend",
		config.KeyBPFObjectPath:   "bpf-object",
		config.KeyPerfBufferPages: "perf-buffer-pages",
		config.KeyKernelVersion:   "kernel-version",
		config.KeyTracefsPath:     "tracefs",
		config.KeyMetricsAddress:  "metrics-address",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return runCmd
}

func run(cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e, err := eventer.New(cfg, reg)
	if err != nil {
		return err
	}

	if cfg.MetricsAddress != "" {
		server, err := metrics.Serve(cfg.MetricsAddress, reg)
		if err != nil {
			e.Close()
			return err
		}
		defer server.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		sig := <-sigCh
		logger.Log.WithField("signal", sig.String()).Info("Stopping")
		if err := e.Close(); err != nil {
			logger.Log.WithError(err).Error("Closing eventer")
		}
	}()

	for {
		ev, err := e.Event()
		if errors.Is(err, eventer.ErrEventerClosed) {
			return nil
		}
		if err != nil {
			logger.Log.WithError(err).Warn("Skipping event")
			continue
		}

		fields := logrus.Fields{
			"pid":       ev.PIDOnCPU,
			"comm":      ev.CommandOnCPU,
			"src":       ev.SourceIP.String(),
			"src_port":  ev.SourcePort,
			"dst":       ev.DestIP.String(),
			"dst_port":  ev.DestPort,
			"old_state": ev.OldState,
			"new_state": ev.NewState,
		}
		if ev.SocketInfo != nil {
			fields["socket"] = ev.SocketInfo.ID
			fields["inode"] = ev.SocketInfo.INode
			fields["uid"] = ev.SocketInfo.UID
			fields["gid"] = ev.SocketInfo.GID
			fields["socket_state"] = ev.SocketInfo.SocketState
		}
		logger.Log.WithFields(fields).Info("TCP state change")
	}
}
