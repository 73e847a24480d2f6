package backbone

import (
	"fmt"
	"strings"
)

// Role is the Backbone Router role reported by the Thread stack.
type Role int

const (
	RoleDisabled  Role = iota // backbone function off
	RoleSecondary             // operational, not forwarding
	RolePrimary               // the partition's sanctioned forwarder
)

func (r Role) String() string {
	switch r {
	case RoleDisabled:
		return "disabled"
	case RoleSecondary:
		return "secondary"
	case RolePrimary:
		return "primary"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ParseRole parses the textual form produced by Role.String.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled":
		return RoleDisabled, nil
	case "secondary":
		return RoleSecondary, nil
	case "primary":
		return RolePrimary, nil
	}
	return 0, fmt.Errorf("unknown backbone role %q", s)
}

// RoleEvent signals a role transition.
type RoleEvent struct {
	Old Role
	New Role
}
