// Package daemon implements the bbrd daemon lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/psaab/bbrd/pkg/api"
	"github.com/psaab/bbrd/pkg/backbone"
	"github.com/psaab/bbrd/pkg/cli"
	"github.com/psaab/bbrd/pkg/config"
	"github.com/psaab/bbrd/pkg/dnssd"
	"github.com/psaab/bbrd/pkg/grpcapi"
	"github.com/psaab/bbrd/pkg/logging"
	"github.com/psaab/bbrd/pkg/mroute"
	"github.com/psaab/bbrd/pkg/mroute/kernel"
	"github.com/psaab/bbrd/pkg/smcroute"
)

const (
	eventBufferSize = 1000
	upcallQueueSize = 64
	eventQueueSize  = 256
)

var errNoKernel = errors.New("kernel forwarder not in use")

// Options configures the daemon.
type Options struct {
	ConfigFile string
	Console    bool                       // run the interactive event console
	Syslog     *logging.SyslogSlogHandler // receives configured syslog clients; may be nil
}

// Daemon is the main bbrd daemon.
type Daemon struct {
	opts Options
	cfg  *config.Config
	now  func() time.Time

	events     *logging.EventBuffer
	kernel     *kernel.Backend
	mfc        *mroute.Manager // nil unless the kernel forwarder is in use
	smc        *smcroute.Manager
	forwarders []backbone.Forwarder
	agent      *backbone.Agent
	dnssd      *dnssd.Dispatcher
	grpc       *grpcapi.Server

	requests chan cli.Request
}

// New creates a new Daemon.
func New(opts Options) *Daemon {
	if opts.ConfigFile == "" {
		opts.ConfigFile = config.DefaultPath
	}
	return &Daemon{
		opts:     opts,
		now:      time.Now,
		events:   logging.NewEventBuffer(eventBufferSize),
		dnssd:    dnssd.NewDispatcher(),
		requests: make(chan cli.Request),
	}
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("starting bbrd", "config", d.opts.ConfigFile, "pid", os.Getpid())

	cfg, err := config.Load(d.opts.ConfigFile)
	if err != nil {
		return err
	}
	d.cfg = cfg
	slog.Info("configuration loaded", "file", d.opts.ConfigFile,
		"interfaces", cfg.Interfaces().String(), "backend", cfg.Backend)
	d.applySyslogConfig()
	defer d.closeSyslog()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.setupForwarders(ctx); err != nil {
		return err
	}
	defer d.releaseForwarders()

	d.dnssd.SetInstanceHandler(func(inst dnssd.Instance) {
		slog.Info("dnssd: instance discovered", "instance", inst.String(), "addresses", len(inst.Addresses))
	})

	lw, err := cfg.EventLogWriter()
	if err != nil {
		slog.Warn("event log disabled", "err", err)
	}
	if lw != nil {
		defer lw.Close()
	}
	agg := logging.NewGroupAggregator(cfg.GroupReport.Interval, cfg.GroupReport.Top)
	if lw != nil {
		agg.SetLogFunc(func(severity int, msg string) { lw.Send(severity, msg) })
	}

	g, gctx := errgroup.WithContext(ctx)
	sub := d.events.Subscribe(eventQueueSize)
	g.Go(func() error {
		pumpEvents(gctx, sub, agg, lw)
		return nil
	})
	g.Go(func() error {
		agg.Run(gctx)
		return nil
	})
	if cfg.APIAddr != "" {
		srv := api.NewServer(d.apiConfig())
		g.Go(func() error { return srv.Run(gctx) })
	}
	if cfg.GRPCAddr != "" {
		d.grpc = grpcapi.NewServer(cfg.GRPCAddr)
		g.Go(func() error { return d.grpc.Run(gctx) })
	}
	if d.opts.Console {
		g.Go(func() error {
			// Leaving the console stops the daemon.
			defer cancel()
			if err := cli.New(d.requests).Run(gctx); err != nil {
				return fmt.Errorf("console: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error { return d.loop(gctx) })

	notify(sddaemon.SdNotifyReady)
	slog.Info("bbrd running", "role", d.agent.Role())

	err = g.Wait()
	notify(sddaemon.SdNotifyStopping)
	if ctx.Err() != nil {
		slog.Info("shutting down")
	}
	slog.Info("shutdown complete")
	return err
}

// setupForwarders builds the forwarders selected by the backend setting.
// A smcroute daemon that does not come up aborts start-up.
func (d *Daemon) setupForwarders(ctx context.Context) error {
	if d.cfg.Backend.UsesKernel() {
		kb, err := kernel.New()
		if err != nil {
			return fmt.Errorf("kernel forwarder: %w", err)
		}
		d.kernel = kb
		d.attachMFC(mroute.New(kb,
			mroute.WithUpcallReader(upcallQueueSize),
			mroute.WithExpireTimeout(d.cfg.MFCExpireTimeout),
			mroute.WithEvents(d.events)))
	}
	if d.cfg.Backend.UsesSMCRoute() {
		smc := smcroute.New(
			smcroute.WithReadyTimeout(d.cfg.SMCRoute.ReadyTimeout),
			smcroute.WithPollInterval(d.cfg.SMCRoute.PollInterval))
		if err := smc.Start(ctx); err != nil {
			d.releaseForwarders()
			return fmt.Errorf("smcroute forwarder: %w", err)
		}
		d.smc = smc
		d.forwarders = append(d.forwarders, smc)
	}
	d.agent = backbone.NewAgent(d.cfg.Interfaces(), d.forwarders...)
	return nil
}

func (d *Daemon) attachMFC(m *mroute.Manager) {
	d.mfc = m
	d.forwarders = append(d.forwarders, m)
}

func (d *Daemon) releaseForwarders() {
	if d.kernel != nil {
		d.kernel.Release()
	}
}

func (d *Daemon) apiConfig() api.Config {
	cfg := api.Config{
		Addr:      d.cfg.APIAddr,
		Auth:      api.NewAuthConfig(d.cfg.APIAuth.Users, d.cfg.APIAuth.APIKeys),
		Role:      d.agent,
		Listeners: d,
		Events:    d.events,
	}
	if d.mfc != nil {
		cfg.MFC = d.mfc
	}
	return cfg
}

// loop is the only goroutine that mutates agent and forwarder state.
func (d *Daemon) loop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.ExpireInterval)
	defer ticker.Stop()

	var upcalls <-chan mroute.Upcall
	if d.mfc != nil {
		upcalls = d.mfc.Upcalls()
	}

	for {
		select {
		case <-ctx.Done():
			d.agent.Resign()
			d.drainRoleEvents()
			return nil
		case req := <-d.requests:
			req.Reply <- d.handle(ctx, req.Command)
		case up := <-upcalls:
			// Failures are logged by the manager.
			_ = d.mfc.HandleUpcall(up)
		case <-ticker.C:
			if d.mfc != nil {
				d.mfc.Expire()
			}
		case ev := <-d.agent.Events():
			d.onRoleEvent(ev)
		}
	}
}

// pumpEvents feeds recorded events to the group report and the event log.
func pumpEvents(ctx context.Context, sub *logging.Subscription, agg *logging.GroupAggregator, lw *logging.LocalLogWriter) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-sub.C:
			agg.Add(rec)
			if lw == nil {
				continue
			}
			if err := lw.WriteEvent(rec); err != nil {
				slog.Warn("event log write failed", "err", err)
			}
		}
	}
}

func (d *Daemon) drainRoleEvents() {
	for {
		select {
		case ev := <-d.agent.Events():
			d.onRoleEvent(ev)
		default:
			return
		}
	}
}

func (d *Daemon) onRoleEvent(ev backbone.RoleEvent) {
	slog.Info("backbone role changed", "from", ev.Old, "to", ev.New)
	d.events.Add(logging.EventRecord{
		Type:   logging.EventRoleChange,
		Role:   ev.New.String(),
		Detail: "from " + ev.Old.String(),
	})
	if ev.Old == backbone.RolePrimary || ev.New == backbone.RolePrimary {
		state := "disabled"
		if d.forwarding() {
			state = "enabled"
		}
		d.events.Add(logging.EventRecord{Type: logging.EventForwarding, Detail: state})
	}
	if d.grpc != nil {
		d.grpc.SetRole(ev.New)
	}
}

// handle executes a console command on the loop goroutine.
func (d *Daemon) handle(ctx context.Context, cmd cli.Command) cli.Reply {
	switch cmd.Kind {
	case cli.KindRole:
		d.agent.OnRoleChanged(ctx, cmd.Role)
		return cli.Reply{Output: cli.FormatRole(d.agent.Role(), d.forwarding())}
	case cli.KindListenerAdd:
		return d.listenerAdd(cmd.Group)
	case cli.KindListenerDel:
		return d.listenerDel(cmd.Group)
	case cli.KindSubscribe:
		d.dnssd.Subscribe(cmd.Name)
		return cli.Reply{}
	case cli.KindUnsubscribe:
		return cli.Reply{Err: d.dnssd.Unsubscribe(cmd.Name)}
	case cli.KindShowRole:
		return cli.Reply{Output: cli.FormatRole(d.agent.Role(), d.forwarding())}
	case cli.KindShowMFC:
		if d.mfc == nil {
			return cli.Reply{Err: errNoKernel}
		}
		return cli.Reply{Output: cli.FormatRoutes(d.mfc.Routes(), d.now())}
	case cli.KindShowListeners:
		return cli.Reply{Output: cli.FormatListeners(d.Listeners())}
	case cli.KindShowEvents:
		return cli.Reply{Output: cli.FormatEvents(d.events.Latest(cmd.Count))}
	case cli.KindShowSubscriptions:
		return cli.Reply{Output: cli.FormatSubscriptions(d.dnssd.Subscriptions())}
	default:
		return cli.Reply{Err: fmt.Errorf("unsupported command %s", cmd.Kind)}
	}
}

// The Thread stack only reports listeners while Primary and never reports
// a group twice. The console can, so those cases are rejected here instead
// of tripping the forwarders' contract checks.
func (d *Daemon) listenerAdd(group netip.Addr) cli.Reply {
	if !d.agent.IsPrimary() {
		return cli.Reply{Output: fmt.Sprintf("listener %s ignored: role is %s\n", group, d.agent.Role())}
	}
	if d.agent.HasListener(group) {
		return cli.Reply{Err: fmt.Errorf("listener %s already registered", group)}
	}
	d.agent.OnListenerAdded(group)
	d.events.Add(logging.EventRecord{Type: logging.EventListenerAdd, Group: group.String()})
	return cli.Reply{}
}

func (d *Daemon) listenerDel(group netip.Addr) cli.Reply {
	if !d.agent.IsPrimary() {
		return cli.Reply{Output: fmt.Sprintf("listener %s ignored: role is %s\n", group, d.agent.Role())}
	}
	if !d.agent.HasListener(group) {
		return cli.Reply{Err: fmt.Errorf("listener %s not registered", group)}
	}
	d.agent.OnListenerRemoved(group)
	d.events.Add(logging.EventRecord{Type: logging.EventListenerRemove, Group: group.String()})
	return cli.Reply{}
}

// Listeners returns the listener table of the first forwarder. Every
// forwarder receives the same listener events.
func (d *Daemon) Listeners() []netip.Addr {
	if len(d.forwarders) == 0 {
		return nil
	}
	return d.forwarders[0].Listeners()
}

func (d *Daemon) forwarding() bool {
	switch {
	case d.mfc != nil:
		return d.mfc.Enabled()
	case d.smc != nil:
		return d.smc.Enabled()
	default:
		return false
	}
}

func (d *Daemon) applySyslogConfig() {
	if d.opts.Syslog == nil || len(d.cfg.Syslog) == 0 {
		return
	}
	clients, err := d.cfg.SyslogClients()
	if err != nil {
		slog.Warn("failed to create syslog client", "err", err)
	}
	for _, s := range d.cfg.Syslog {
		slog.Info("syslog destination configured", "host", s.Host, "port", s.Port, "severity", s.Severity)
	}
	if len(clients) > 0 {
		d.opts.Syslog.SetClients(clients)
	}
}

func (d *Daemon) closeSyslog() {
	if d.opts.Syslog != nil {
		d.opts.Syslog.Close()
	}
}

func notify(state string) {
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		slog.Warn("sd_notify failed", "state", state, "err", err)
		return
	}
	if sent {
		slog.Debug("sd_notify sent", "state", state)
	}
}
