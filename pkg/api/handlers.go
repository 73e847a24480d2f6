package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/psaab/bbrd/pkg/backbone"
	"github.com/psaab/bbrd/pkg/logging"
	"github.com/psaab/bbrd/pkg/mroute"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Error: msg})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) currentRole() backbone.Role {
	if s.role == nil {
		return backbone.RoleDisabled
	}
	return s.role.Role()
}

func (s *Server) routes() []mroute.RouteEntry {
	if s.mfc == nil {
		return nil
	}
	return s.mfc.Routes()
}

func (s *Server) listenerCount() int {
	if s.listeners == nil {
		return 0
	}
	return len(s.listeners.Listeners())
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	role := s.currentRole()
	resp := StatusResponse{
		Uptime:            s.now().Sub(s.startTime).Truncate(time.Second).String(),
		Role:              role.String(),
		ForwardingEnabled: s.mfc != nil && s.mfc.Enabled(),
		MFCEntries:        len(s.routes()),
		Listeners:         s.listenerCount(),
	}
	if s.mfc == nil {
		resp.ForwardingEnabled = role == backbone.RolePrimary
	}
	writeOK(w, resp)
}

func (s *Server) roleHandler(w http.ResponseWriter, _ *http.Request) {
	role := s.currentRole()
	writeOK(w, RoleInfo{Role: role.String(), Primary: role == backbone.RolePrimary})
}

func (s *Server) mfcHandler(w http.ResponseWriter, _ *http.Request) {
	if s.mfc == nil {
		writeError(w, http.StatusServiceUnavailable, "kernel forwarding cache not in use")
		return
	}
	now := s.now()
	resp := MFCResponse{
		Enabled: s.mfc.Enabled(),
		Entries: make([]MFCEntry, 0),
	}
	for _, e := range s.mfc.Routes() {
		resp.Entries = append(resp.Entries, MFCEntry{
			Source:       e.Source.String(),
			Group:        e.Group.String(),
			Iif:          e.Iif.String(),
			Oif:          e.Oif.String(),
			LastUse:      e.LastUse.Format(time.RFC3339),
			Idle:         now.Sub(e.LastUse).Truncate(time.Second).String(),
			ValidPackets: e.ValidPackets,
		})
	}
	st := s.mfc.Stats()
	resp.Stats = MFCStats{
		Upcalls:       st.Upcalls,
		UpcallErrors:  st.UpcallErrors,
		Installed:     st.Installed,
		InstallErrors: st.InstallErrors,
		Unblocked:     st.Unblocked,
		Removed:       st.Removed,
		Expired:       st.Expired,
	}
	writeOK(w, resp)
}

func (s *Server) listenersHandler(w http.ResponseWriter, _ *http.Request) {
	groups := make([]string, 0)
	if s.listeners != nil {
		for _, g := range s.listeners.Listeners() {
			groups = append(groups, g.String())
		}
	}
	writeOK(w, groups)
}

// eventsHandler returns recent forwarding events, newest first.
// Supports ?limit=, ?type= (prefix, e.g. "mfc") and ?group=.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event buffer not available")
		return
	}
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxEventLimit)
	}
	filter := eventFilter(r)

	entries := make([]EventEntry, 0)
	for _, rec := range s.events.LatestFiltered(limit, filter) {
		entries = append(entries, eventEntryFromRecord(rec))
	}
	writeOK(w, entries)
}

func eventFilter(r *http.Request) logging.EventFilter {
	q := r.URL.Query()
	return logging.EventFilter{Type: q.Get("type"), Group: q.Get("group")}
}
