package dnssd

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionsRefcount(t *testing.T) {
	s := NewSubscriptions()

	require.True(t, s.Subscribe("_meshcop._udp"))
	require.False(t, s.Subscribe("_MeshCoP._udp."))
	require.Equal(t, 2, s.Count("_meshcop._udp"))

	last, err := s.Unsubscribe("_meshcop._udp")
	require.NoError(t, err)
	require.False(t, last)

	last, err = s.Unsubscribe("_meshcop._udp")
	require.NoError(t, err)
	require.True(t, last)
	require.False(t, s.Subscribed("_meshcop._udp"))

	_, err = s.Unsubscribe("_meshcop._udp")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSubscriptionsNames(t *testing.T) {
	s := NewSubscriptions()
	s.Subscribe("_srpl-tls._tcp")
	s.Subscribe("_meshcop._udp")
	s.Subscribe("_meshcop._udp")

	want := []string{"_meshcop._udp", "_srpl-tls._tcp"}
	if diff := cmp.Diff(want, s.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcherDeliver(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.SetInstanceHandler(func(i Instance) { got = append(got, i.FullName()) })

	br := Instance{
		Type:      "_meshcop._udp",
		Name:      "OpenThread BR",
		Host:      "otbr.local",
		Addresses: []netip.Addr{netip.MustParseAddr("fd00::1")},
		Port:      49154,
		TTL:       120,
	}
	other := Instance{Type: "_http._tcp", Name: "printer"}

	require.False(t, d.Deliver(br))

	d.Subscribe("_meshcop._udp")
	d.Subscribe("printer._http._tcp")
	require.True(t, d.Deliver(br))
	require.True(t, d.Deliver(other))
	require.False(t, d.Deliver(Instance{Type: "_ipp._tcp", Name: "scanner"}))

	require.NoError(t, d.Unsubscribe("_meshcop._udp"))
	require.False(t, d.Deliver(br))
	if err := d.Unsubscribe("_meshcop._udp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	want := []string{"OpenThread BR._meshcop._udp", "printer._http._tcp"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
}
