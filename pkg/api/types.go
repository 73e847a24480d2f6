// Package api implements the HTTP status API and Prometheus metrics endpoint.
package api

// Response is the standard JSON response envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse holds daemon status information.
type StatusResponse struct {
	Uptime            string `json:"uptime"`
	Role              string `json:"role"`
	ForwardingEnabled bool   `json:"forwarding_enabled"`
	MFCEntries        int    `json:"mfc_entries"`
	Listeners         int    `json:"listeners"`
}

// RoleInfo is the Backbone Router role.
type RoleInfo struct {
	Role    string `json:"role"`
	Primary bool   `json:"primary"`
}

// MFCEntry is one forwarding cache entry.
type MFCEntry struct {
	Source       string `json:"source"`
	Group        string `json:"group"`
	Iif          string `json:"iif"`
	Oif          string `json:"oif"`
	LastUse      string `json:"last_use"`
	Idle         string `json:"idle"`
	ValidPackets uint64 `json:"valid_packets"`
}

// MFCStats holds forwarding cache counters.
type MFCStats struct {
	Upcalls       uint64 `json:"upcalls"`
	UpcallErrors  uint64 `json:"upcall_errors"`
	Installed     uint64 `json:"installed"`
	InstallErrors uint64 `json:"install_errors"`
	Unblocked     uint64 `json:"unblocked"`
	Removed       uint64 `json:"removed"`
	Expired       uint64 `json:"expired"`
}

// MFCResponse is the forwarding cache listing.
type MFCResponse struct {
	Enabled bool       `json:"enabled"`
	Entries []MFCEntry `json:"entries"`
	Stats   MFCStats   `json:"stats"`
}

// EventEntry is a forwarding event as served by the API.
type EventEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"`
	Source  string `json:"source,omitempty"`
	Group   string `json:"group,omitempty"`
	Iif     string `json:"iif,omitempty"`
	Oif     string `json:"oif,omitempty"`
	Role    string `json:"role,omitempty"`
	Packets uint64 `json:"packets,omitempty"`
	Detail  string `json:"detail,omitempty"`
}
