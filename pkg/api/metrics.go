package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/psaab/bbrd/pkg/backbone"
	"github.com/psaab/bbrd/pkg/mroute"
)

var knownRoles = []backbone.Role{backbone.RoleDisabled, backbone.RoleSecondary, backbone.RolePrimary}

// bbrdCollector implements prometheus.Collector, reading manager snapshots
// on each scrape.
type bbrdCollector struct {
	srv *Server

	role              *prometheus.Desc
	forwardingEnabled *prometheus.Desc
	listeners         *prometheus.Desc

	mfcEntries     *prometheus.Desc
	upcallsTotal   *prometheus.Desc
	installErrors  *prometheus.Desc
	unblockedTotal *prometheus.Desc
	removedTotal   *prometheus.Desc
	expiredTotal   *prometheus.Desc
	eventsTotal    *prometheus.Desc
}

func newCollector(srv *Server) *bbrdCollector {
	return &bbrdCollector{
		srv: srv,

		role: prometheus.NewDesc(
			"bbrd_role",
			"Backbone Router role (1 for the current role).",
			[]string{"role"}, nil,
		),
		forwardingEnabled: prometheus.NewDesc(
			"bbrd_forwarding_enabled",
			"Whether multicast forwarding is armed.",
			nil, nil,
		),
		listeners: prometheus.NewDesc(
			"bbrd_listeners",
			"Multicast groups registered by Thread listeners.",
			nil, nil,
		),
		mfcEntries: prometheus.NewDesc(
			"bbrd_mfc_entries",
			"Multicast forwarding cache entries.",
			[]string{"iif", "oif"}, nil,
		),
		upcallsTotal: prometheus.NewDesc(
			"bbrd_upcalls_total",
			"Kernel cache-miss upcalls handled.",
			[]string{"result"}, nil,
		),
		installErrors: prometheus.NewDesc(
			"bbrd_mfc_install_errors_total",
			"Forwarding cache entries the kernel refused.",
			nil, nil,
		),
		unblockedTotal: prometheus.NewDesc(
			"bbrd_mfc_unblocked_total",
			"Inbound entries re-pointed at Thread after a listener registered.",
			nil, nil,
		),
		removedTotal: prometheus.NewDesc(
			"bbrd_mfc_removed_total",
			"Inbound entries removed after a listener left.",
			nil, nil,
		),
		expiredTotal: prometheus.NewDesc(
			"bbrd_mfc_expired_total",
			"Idle forwarding cache entries expired.",
			nil, nil,
		),
		eventsTotal: prometheus.NewDesc(
			"bbrd_events_total",
			"Forwarding events recorded.",
			nil, nil,
		),
	}
}

func (c *bbrdCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.role
	ch <- c.forwardingEnabled
	ch <- c.listeners
	ch <- c.mfcEntries
	ch <- c.upcallsTotal
	ch <- c.installErrors
	ch <- c.unblockedTotal
	ch <- c.removedTotal
	ch <- c.expiredTotal
	ch <- c.eventsTotal
}

func (c *bbrdCollector) Collect(ch chan<- prometheus.Metric) {
	c.collectRole(ch)

	ch <- prometheus.MustNewConstMetric(c.listeners, prometheus.GaugeValue,
		float64(c.srv.listenerCount()))

	if ev := c.srv.events; ev != nil {
		ch <- prometheus.MustNewConstMetric(c.eventsTotal, prometheus.CounterValue, float64(ev.Seq()))
	}

	if c.srv.mfc != nil {
		c.collectMFC(ch, c.srv.mfc)
	}
}

func (c *bbrdCollector) collectRole(ch chan<- prometheus.Metric) {
	current := c.srv.currentRole()
	known := false
	for _, r := range knownRoles {
		v := 0.0
		if r == current {
			v, known = 1, true
		}
		ch <- prometheus.MustNewConstMetric(c.role, prometheus.GaugeValue, v, r.String())
	}
	if !known {
		ch <- prometheus.MustNewConstMetric(c.role, prometheus.GaugeValue, 1, current.String())
	}

	enabled := current == backbone.RolePrimary
	if c.srv.mfc != nil {
		enabled = c.srv.mfc.Enabled()
	}
	ch <- prometheus.MustNewConstMetric(c.forwardingEnabled, prometheus.GaugeValue, boolToFloat(enabled))
}

func (c *bbrdCollector) collectMFC(ch chan<- prometheus.Metric, mfc MFCSource) {
	type dir struct{ iif, oif mroute.Mif }
	counts := map[dir]int{
		{mroute.MifBackbone, mroute.MifThread}: 0,
		{mroute.MifBackbone, mroute.MifNone}:   0,
		{mroute.MifThread, mroute.MifBackbone}: 0,
		{mroute.MifThread, mroute.MifNone}:     0,
	}
	for _, e := range mfc.Routes() {
		counts[dir{e.Iif, e.Oif}]++
	}
	for d, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.mfcEntries, prometheus.GaugeValue,
			float64(n), d.iif.String(), d.oif.String())
	}

	st := mfc.Stats()
	ch <- prometheus.MustNewConstMetric(c.upcallsTotal, prometheus.CounterValue,
		float64(st.Upcalls-st.UpcallErrors), "installed")
	ch <- prometheus.MustNewConstMetric(c.upcallsTotal, prometheus.CounterValue,
		float64(st.UpcallErrors), "error")
	ch <- prometheus.MustNewConstMetric(c.installErrors, prometheus.CounterValue, float64(st.InstallErrors))
	ch <- prometheus.MustNewConstMetric(c.unblockedTotal, prometheus.CounterValue, float64(st.Unblocked))
	ch <- prometheus.MustNewConstMetric(c.removedTotal, prometheus.CounterValue, float64(st.Removed))
	ch <- prometheus.MustNewConstMetric(c.expiredTotal, prometheus.CounterValue, float64(st.Expired))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
