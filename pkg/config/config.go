// Package config loads the bbrd daemon configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/psaab/bbrd/pkg/logging"
	"github.com/psaab/bbrd/pkg/mroute"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/bbrd/bbrd.yaml"

// Backend selects which forwarders the daemon drives.
type Backend string

const (
	BackendKernel   Backend = "kernel"
	BackendSMCRoute Backend = "smcroute"
	BackendBoth     Backend = "both"
)

// UsesKernel reports whether the kernel MRT6 forwarder is enabled.
func (b Backend) UsesKernel() bool { return b == BackendKernel || b == BackendBoth }

// UsesSMCRoute reports whether the smcroute forwarder is enabled.
func (b Backend) UsesSMCRoute() bool { return b == BackendSMCRoute || b == BackendBoth }

// Config is the top-level daemon configuration.
type Config struct {
	ThreadInterface   string         `yaml:"thread-interface"`
	BackboneInterface string         `yaml:"backbone-interface"`
	Backend           Backend        `yaml:"backend"`
	MFCExpireTimeout  time.Duration  `yaml:"mfc-expire-timeout"`
	ExpireInterval    time.Duration  `yaml:"expire-interval"`
	APIAddr           string         `yaml:"api-addr"`
	GRPCAddr          string         `yaml:"grpc-addr"`
	APIAuth           APIAuthConfig  `yaml:"api-auth,omitempty"`
	SMCRoute          SMCRouteConfig `yaml:"smcroute"`
	Syslog            []SyslogHost   `yaml:"syslog,omitempty"`
	EventLog          EventLogConfig `yaml:"event-log,omitempty"`
	GroupReport       ReportConfig   `yaml:"group-report"`
}

// EventLogConfig configures the local forwarding event log. An empty path
// disables it.
type EventLogConfig struct {
	Path     string `yaml:"path,omitempty"`
	MaxSize  int64  `yaml:"max-size,omitempty"`  // bytes
	MaxFiles int    `yaml:"max-files,omitempty"` // rotated files kept
	Severity string `yaml:"severity,omitempty"`
	Events   string `yaml:"events,omitempty"` // event type prefix, e.g. "mfc"
}

// ReportConfig configures the periodic busiest-groups report.
type ReportConfig struct {
	Interval time.Duration `yaml:"interval"`
	Top      int           `yaml:"top"`
}

// APIAuthConfig lists the credentials accepted by the HTTP API. Leaving
// both empty keeps the API open.
type APIAuthConfig struct {
	Users   map[string]string `yaml:"users,omitempty"`
	APIKeys []string          `yaml:"api-keys,omitempty"`
}

// SMCRouteConfig tunes the smcroute forwarder.
type SMCRouteConfig struct {
	ReadyTimeout time.Duration `yaml:"ready-timeout"`
	PollInterval time.Duration `yaml:"poll-interval"`
}

// SyslogHost is a remote syslog destination.
type SyslogHost struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Facility string `yaml:"facility"`
	Severity string `yaml:"severity"` // error, warning, info; empty sends everything
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ThreadInterface:   "wpan0",
		BackboneInterface: "eth0",
		Backend:           BackendKernel,
		MFCExpireTimeout:  mroute.DefaultExpireTimeout,
		ExpireInterval:    60 * time.Second,
		APIAddr:           "127.0.0.1:8081",
		GRPCAddr:          "127.0.0.1:50052",
		SMCRoute: SMCRouteConfig{
			ReadyTimeout: 10 * time.Second,
			PollInterval: 10 * time.Millisecond,
		},
		GroupReport: ReportConfig{
			Interval: 5 * time.Minute,
			Top:      10,
		},
	}
}

// Interfaces returns the interface pair handed to forwarders.
func (c *Config) Interfaces() mroute.Interfaces {
	return mroute.Interfaces{Thread: c.ThreadInterface, Backbone: c.BackboneInterface}
}

// Load reads the configuration at path on top of the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.ThreadInterface == "" {
		errs = append(errs, errors.New("thread-interface is empty"))
	}
	if c.BackboneInterface == "" {
		errs = append(errs, errors.New("backbone-interface is empty"))
	}
	if c.ThreadInterface != "" && c.ThreadInterface == c.BackboneInterface {
		errs = append(errs, fmt.Errorf("thread-interface and backbone-interface are both %q", c.ThreadInterface))
	}
	switch c.Backend {
	case BackendKernel, BackendSMCRoute, BackendBoth:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want kernel, smcroute or both)", c.Backend))
	}
	for name, d := range map[string]time.Duration{
		"mfc-expire-timeout":     c.MFCExpireTimeout,
		"expire-interval":        c.ExpireInterval,
		"smcroute.ready-timeout": c.SMCRoute.ReadyTimeout,
		"smcroute.poll-interval": c.SMCRoute.PollInterval,
		"group-report.interval":  c.GroupReport.Interval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	for _, addr := range []struct{ key, val string }{{"api-addr", c.APIAddr}, {"grpc-addr", c.GRPCAddr}} {
		if addr.val == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr.val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr.key, err))
		}
	}
	for user, pass := range c.APIAuth.Users {
		if user == "" || pass == "" {
			errs = append(errs, fmt.Errorf("api-auth: user %q has an empty name or password", user))
		}
	}
	if slices.Contains(c.APIAuth.APIKeys, "") {
		errs = append(errs, errors.New("api-auth: empty api key"))
	}
	if c.GroupReport.Top <= 0 {
		errs = append(errs, fmt.Errorf("group-report.top must be positive, got %d", c.GroupReport.Top))
	}
	if c.EventLog.MaxSize < 0 || c.EventLog.MaxFiles < 0 {
		errs = append(errs, errors.New("event-log: max-size and max-files must not be negative"))
	}
	if c.EventLog.Severity != "" && logging.ParseSeverity(c.EventLog.Severity) == 0 {
		errs = append(errs, fmt.Errorf("event-log: unknown severity %q", c.EventLog.Severity))
	}
	for i, s := range c.Syslog {
		if s.Host == "" {
			errs = append(errs, fmt.Errorf("syslog[%d]: host is empty", i))
		}
		if s.Port < 0 || s.Port > 65535 {
			errs = append(errs, fmt.Errorf("syslog[%d]: port %d out of range", i, s.Port))
		}
		if s.Severity != "" && logging.ParseSeverity(s.Severity) == 0 {
			errs = append(errs, fmt.Errorf("syslog[%d]: unknown severity %q", i, s.Severity))
		}
	}
	return errors.Join(errs...)
}

// SyslogClients dials every configured syslog destination. Destinations
// that cannot be dialed are returned as errors alongside the working ones.
func (c *Config) SyslogClients() ([]*logging.SyslogClient, error) {
	var (
		clients []*logging.SyslogClient
		errs    []error
	)
	for _, s := range c.Syslog {
		port := s.Port
		if port == 0 {
			port = 514
		}
		client, err := logging.NewSyslogClient(s.Host, port)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if s.Facility != "" {
			client.Facility = logging.ParseFacility(s.Facility)
		}
		client.MinSeverity = logging.ParseSeverity(s.Severity)
		clients = append(clients, client)
	}
	return clients, errors.Join(errs...)
}

// EventLogWriter opens the configured event log, or returns nil when none
// is configured.
func (c *Config) EventLogWriter() (*logging.LocalLogWriter, error) {
	if c.EventLog.Path == "" {
		return nil, nil
	}
	lw, err := logging.NewLocalLogWriter(logging.LocalLogConfig{
		Path:     c.EventLog.Path,
		MaxSize:  c.EventLog.MaxSize,
		MaxFiles: c.EventLog.MaxFiles,
	})
	if err != nil {
		return nil, err
	}
	lw.MinSeverity = logging.ParseSeverity(c.EventLog.Severity)
	lw.Filter = logging.EventFilter{Type: c.EventLog.Events}
	return lw, nil
}

func (c *Config) String() string {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	enc.Encode(c)
	enc.Close()
	return b.String()
}
