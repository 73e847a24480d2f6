package backbone

import (
	"context"
	"errors"
	"net/netip"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/psaab/bbrd/pkg/mroute"
)

var testIfaces = mroute.Interfaces{Thread: "wpan0", Backbone: "eth0"}

// recordingForwarder logs every call it receives.
type recordingForwarder struct {
	calls     []string
	listeners []netip.Addr
	enableErr error
}

func (f *recordingForwarder) Enable(_ context.Context, ifaces mroute.Interfaces) error {
	f.calls = append(f.calls, "enable "+ifaces.String())
	return f.enableErr
}

func (f *recordingForwarder) Disable() error {
	f.calls = append(f.calls, "disable")
	return nil
}

func (f *recordingForwarder) Add(g netip.Addr) {
	f.calls = append(f.calls, "add "+g.String())
	f.listeners = append(f.listeners, g)
}

func (f *recordingForwarder) Remove(g netip.Addr) {
	f.calls = append(f.calls, "remove "+g.String())
	f.listeners = slices.DeleteFunc(f.listeners, func(x netip.Addr) bool { return x == g })
}

func (f *recordingForwarder) Listeners() []netip.Addr { return f.listeners }

func TestRoleTransitions(t *testing.T) {
	enable := "enable " + testIfaces.String()
	tests := []struct {
		name  string
		roles []Role
		want  []string
	}{
		{"disabled to primary", []Role{RolePrimary}, []string{enable}},
		{"secondary only", []Role{RoleSecondary}, nil},
		{"repeat primary", []Role{RolePrimary, RolePrimary}, []string{enable}},
		{"primary to secondary", []Role{RoleSecondary, RolePrimary, RoleSecondary}, []string{enable, "disable"}},
		{"primary to disabled", []Role{RolePrimary, RoleDisabled}, []string{enable, "disable"}},
		{"secondary to disabled", []Role{RoleSecondary, RoleDisabled}, nil},
		{"unknown role is not primary", []Role{RolePrimary, Role(7)}, []string{enable, "disable"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &recordingForwarder{}
			a := NewAgent(testIfaces, f)
			for _, r := range tt.roles {
				a.OnRoleChanged(context.Background(), r)
			}
			if diff := cmp.Diff(tt.want, f.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
			if got := a.Role(); got != tt.roles[len(tt.roles)-1] {
				t.Errorf("role = %v, want %v", got, tt.roles[len(tt.roles)-1])
			}
		})
	}
}

func TestListenerEventsGatedByPrimary(t *testing.T) {
	f := &recordingForwarder{}
	a := NewAgent(testIfaces, f)
	g := netip.MustParseAddr("ff05::1")

	a.OnRoleChanged(context.Background(), RoleSecondary)
	a.OnListenerAdded(g)
	a.OnListenerRemoved(g)
	if len(f.calls) != 0 {
		t.Fatalf("secondary forwarded %v", f.calls)
	}

	a.OnRoleChanged(context.Background(), RolePrimary)
	a.OnListenerAdded(g)
	require.True(t, a.HasListener(g))
	a.OnListenerRemoved(g)
	require.False(t, a.HasListener(g))

	want := []string{"enable " + testIfaces.String(), "add ff05::1", "remove ff05::1"}
	if diff := cmp.Diff(want, f.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestEnableErrorDoesNotBlockOthers(t *testing.T) {
	bad := &recordingForwarder{enableErr: errors.New("socket: permission denied")}
	good := &recordingForwarder{}
	a := NewAgent(testIfaces, bad, good)

	a.OnRoleChanged(context.Background(), RolePrimary)
	require.Len(t, good.calls, 1)
	require.True(t, a.IsPrimary())
}

func TestRoleEvents(t *testing.T) {
	a := NewAgent(testIfaces)
	a.OnRoleChanged(context.Background(), RoleSecondary)
	a.OnRoleChanged(context.Background(), RoleSecondary)
	a.OnRoleChanged(context.Background(), RolePrimary)
	a.Resign()

	want := []RoleEvent{
		{RoleDisabled, RoleSecondary},
		{RoleSecondary, RolePrimary},
		{RolePrimary, RoleDisabled},
	}
	var got []RoleEvent
	for len(got) < len(want) {
		got = append(got, <-a.Events())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	select {
	case ev := <-a.Events():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range []Role{RoleDisabled, RoleSecondary, RolePrimary} {
		got, err := ParseRole(r.String())
		if err != nil {
			t.Fatalf("ParseRole(%q): %v", r, err)
		}
		if got != r {
			t.Errorf("got %v, want %v", got, r)
		}
	}
	if _, err := ParseRole("leader"); err == nil {
		t.Error("ParseRole(leader) succeeded")
	}
	if got := Role(9).String(); got != "unknown(9)" {
		t.Errorf("got %q, want unknown(9)", got)
	}
}
