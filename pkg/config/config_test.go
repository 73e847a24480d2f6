package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/psaab/bbrd/pkg/logging"
	"github.com/psaab/bbrd/pkg/mroute"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bbrd.yaml")
	data := `
thread-interface: wpan1
backbone-interface: enp3s0
backend: both
mfc-expire-timeout: 2m
smcroute:
  ready-timeout: 3s
syslog:
  - host: 192.0.2.10
    severity: warning
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.ThreadInterface = "wpan1"
	want.BackboneInterface = "enp3s0"
	want.Backend = BackendBoth
	want.MFCExpireTimeout = 2 * time.Minute
	want.SMCRoute.ReadyTimeout = 3 * time.Second
	want.Syslog = []SyslogHost{{Host: "192.0.2.10", Severity: "warning"}}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, mroute.Interfaces{Thread: "wpan1", Backbone: "enp3s0"}, cfg.Interfaces())
	require.True(t, cfg.Backend.UsesKernel())
	require.True(t, cfg.Backend.UsesSMCRoute())
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, BackendKernel, cfg.Backend)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "threads: wpan0\n", "field threads not found"},
		{"same interfaces", "thread-interface: eth0\n", "are both"},
		{"empty interface", "backbone-interface: \"\"\n", "backbone-interface is empty"},
		{"bad backend", "backend: pim\n", "unknown backend"},
		{"zero timeout", "mfc-expire-timeout: 0s\n", "mfc-expire-timeout must be positive"},
		{"bad duration", "expire-interval: soon\n", "decode config"},
		{"bad api addr", "api-addr: localhost\n", "api-addr"},
		{"syslog without host", "syslog:\n  - port: 514\n", "host is empty"},
		{"empty api key", "api-auth:\n  api-keys: [\"\"]\n", "empty api key"},
		{"empty password", "api-auth:\n  users:\n    admin: \"\"\n", "empty name or password"},
		{"zero report interval", "group-report:\n  interval: 0s\n", "group-report.interval must be positive"},
		{"zero report top", "group-report:\n  top: 0\n", "group-report.top must be positive"},
		{"event log severity", "event-log:\n  path: /tmp/x.log\n  severity: loud\n", "event-log: unknown severity"},
		{"syslog severity", "syslog:\n  - host: 192.0.2.1\n    severity: loud\n", "unknown severity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestEmptyAddrsDisableServers(t *testing.T) {
	cfg, err := Parse([]byte("api-addr: \"\"\ngrpc-addr: \"\"\n"))
	require.NoError(t, err)
	require.Empty(t, cfg.APIAddr)
	require.Empty(t, cfg.GRPCAddr)
}

func TestParseAPIAuth(t *testing.T) {
	cfg, err := Parse([]byte("api-auth:\n  users:\n    admin: secret\n  api-keys:\n    - k1\n"))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"admin": "secret"}, cfg.APIAuth.Users)
	require.Equal(t, []string{"k1"}, cfg.APIAuth.APIKeys)
}

func TestBackendSelection(t *testing.T) {
	tests := []struct {
		b              Backend
		kernel, smcrt bool
	}{
		{BackendKernel, true, false},
		{BackendSMCRoute, false, true},
		{BackendBoth, true, true},
	}
	for _, tt := range tests {
		if got := tt.b.UsesKernel(); got != tt.kernel {
			t.Errorf("%s UsesKernel = %v, want %v", tt.b, got, tt.kernel)
		}
		if got := tt.b.UsesSMCRoute(); got != tt.smcrt {
			t.Errorf("%s UsesSMCRoute = %v, want %v", tt.b, got, tt.smcrt)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Backend = BackendSMCRoute
	got, err := Parse([]byte(cfg.String()))
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestSyslogClients(t *testing.T) {
	cfg := Default()
	cfg.Syslog = []SyslogHost{{Host: "127.0.0.1", Port: 5514, Facility: "local3", Severity: "error"}}
	clients, err := cfg.SyslogClients()
	require.NoError(t, err)
	require.Len(t, clients, 1)
	t.Cleanup(func() { clients[0].Close() })
	require.Equal(t, 19, clients[0].Facility)
	require.Equal(t, 3, clients[0].MinSeverity)
}

func TestEventLogWriter(t *testing.T) {
	cfg := Default()
	lw, err := cfg.EventLogWriter()
	require.NoError(t, err)
	require.Nil(t, lw)

	cfg, err = Parse([]byte("event-log:\n  path: " + filepath.Join(t.TempDir(), "events.log") + "\n  severity: info\n  events: mfc\n"))
	require.NoError(t, err)
	lw, err = cfg.EventLogWriter()
	require.NoError(t, err)
	t.Cleanup(func() { lw.Close() })
	require.Equal(t, logging.SyslogInfo, lw.MinSeverity)
	require.Equal(t, logging.EventFilter{Type: "mfc"}, lw.Filter)
}
