// Package config resolves the eventer's settings from defaults, an optional
// config file, TCP_AUDIT_PROBE_* environment variables and bound flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/jhwbarlow/tcp-audit-probe/probe"
)

// Backends.
const (
	BackendLibBPFGo = "libbpfgo"
	BackendCilium   = "cilium"
	BackendPerf     = "perf"
)

const envPrefix = "TCP_AUDIT_PROBE"

// Keys.
const (
	KeyBackend                  = "backend"
	KeyBPFObjectPath            = "bpf_object_path"
	KeyEventChannelSize         = "event_channel_size"
	KeyDroppedEventsChannelSize = "dropped_events_channel_size"
	KeyPerfBufferPages          = "perf_buffer_pages"
	KeyKernelVersion            = "kernel_version"
	KeyTracefsPath              = "tracefs_path"
	KeyLogLevel                 = "log_level"
	KeyMetricsAddress           = "metrics_address"
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrInvalidSize    = errors.New("size must be positive")
)

type Config struct {
	Backend                  string
	BPFObjectPath            string
	EventChannelSize         int
	DroppedEventsChannelSize int
	PerfBufferPages          int

	// KernelVersion overrides the running kernel's version when choosing
	// the tracepoint layout in the perf backend. Zero means detect.
	KernelVersion probe.KernelVersion

	TracefsPath    string
	LogLevel       string
	MetricsAddress string
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBackend, BackendLibBPFGo)
	v.SetDefault(KeyBPFObjectPath, "/usr/lib/tcp-audit/bpf.o")
	v.SetDefault(KeyEventChannelSize, 1024)
	v.SetDefault(KeyDroppedEventsChannelSize, 64)
	v.SetDefault(KeyPerfBufferPages, 16) // Number copied from existing libbpf tools
	v.SetDefault(KeyKernelVersion, "")
	v.SetDefault(KeyTracefsPath, "/sys/kernel/tracing")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyMetricsAddress, "")
}

// NewViper returns a viper instance with defaults and environment binding
// in place.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// FromEnvironment reads the configuration from defaults and the environment
// only, which is all a plugin has.
func FromEnvironment() (*Config, error) {
	return Load(NewViper())
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Backend:                  strings.ToLower(v.GetString(KeyBackend)),
		BPFObjectPath:            v.GetString(KeyBPFObjectPath),
		EventChannelSize:         v.GetInt(KeyEventChannelSize),
		DroppedEventsChannelSize: v.GetInt(KeyDroppedEventsChannelSize),
		PerfBufferPages:          v.GetInt(KeyPerfBufferPages),
		TracefsPath:              v.GetString(KeyTracefsPath),
		LogLevel:                 v.GetString(KeyLogLevel),
		MetricsAddress:           v.GetString(KeyMetricsAddress),
	}

	if release := v.GetString(KeyKernelVersion); release != "" {
		version, err := probe.ParseKernelRelease(release)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", KeyKernelVersion, err)
		}
		c.KernelVersion = version
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendLibBPFGo, BackendCilium, BackendPerf:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}

	sizes := []struct {
		key   string
		value int
	}{
		{KeyEventChannelSize, c.EventChannelSize},
		{KeyDroppedEventsChannelSize, c.DroppedEventsChannelSize},
		{KeyPerfBufferPages, c.PerfBufferPages},
	}
	for _, size := range sizes {
		if size.value <= 0 {
			return fmt.Errorf("%w: %s is %d", ErrInvalidSize, size.key, size.value)
		}
	}

	return nil
}
