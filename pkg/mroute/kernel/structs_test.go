package kernel

import (
	"net/netip"
	"testing"

	"github.com/josharian/native"

	"github.com/psaab/bbrd/pkg/mroute"
)

func testRoute() mroute.Route {
	return mroute.Route{
		Source: netip.MustParseAddr("2001:db8::1"),
		Group:  netip.MustParseAddr("ff04::1"),
	}
}

func TestMarshalMif6ctl(t *testing.T) {
	b := marshalMif6ctl(mroute.MifBackbone, 7, 1, 0)
	if len(b) != 12 {
		t.Fatalf("len = %d, want 12", len(b))
	}
	if got := native.Endian.Uint16(b[0:2]); got != 1 {
		t.Errorf("mifi = %d, want 1", got)
	}
	if b[3] != 1 {
		t.Errorf("threshold = %d, want 1", b[3])
	}
	if got := native.Endian.Uint16(b[4:6]); got != 7 {
		t.Errorf("pifi = %d, want 7", got)
	}
}

func TestMarshalMf6cctl(t *testing.T) {
	r := testRoute()
	b := marshalMf6cctl(r, mroute.MifBackbone, mroute.MifThread)
	if len(b) != 92 {
		t.Fatalf("len = %d, want 92", len(b))
	}
	if got := native.Endian.Uint16(b[0:2]); got != afInet6 {
		t.Errorf("origin family = %d, want %d", got, afInet6)
	}
	if got := netip.AddrFrom16([16]byte(b[8:24])); got != r.Source {
		t.Errorf("origin = %v, want %v", got, r.Source)
	}
	if got := netip.AddrFrom16([16]byte(b[36:52])); got != r.Group {
		t.Errorf("group = %v, want %v", got, r.Group)
	}
	if got := native.Endian.Uint16(b[56:58]); got != uint16(mroute.MifBackbone) {
		t.Errorf("parent = %d, want %d", got, mroute.MifBackbone)
	}
	if got := native.Endian.Uint32(b[60:64]); got != 1<<mroute.MifThread {
		t.Errorf("ifset[0] = %#x, want %#x", got, 1<<mroute.MifThread)
	}
	for i := 64; i < len(b); i++ {
		if b[i] != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b[i])
		}
	}
}

func TestMarshalMf6cctlBlocked(t *testing.T) {
	b := marshalMf6cctl(testRoute(), mroute.MifThread, mroute.MifNone)
	for i := 60; i < len(b); i++ {
		if b[i] != 0 {
			t.Fatalf("ifset byte %d = %#x, want empty set", i, b[i])
		}
	}
}

func TestSiocSgReq6Counters(t *testing.T) {
	b := marshalSiocSgReq6(testRoute())
	if want := 56 + 3*longSize; len(b) != want {
		t.Fatalf("len = %d, want %d", len(b), want)
	}

	put := func(off int, v uint64) {
		if longSize == 8 {
			native.Endian.PutUint64(b[off:], v)
		} else {
			native.Endian.PutUint32(b[off:], uint32(v))
		}
	}
	put(56, 42)
	put(56+longSize, 4200)
	put(56+2*longSize, 3)

	got := unmarshalSiocSgReq6(b)
	want := mroute.Counters{Packets: 42, Bytes: 4200, WrongIf: 3}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Valid() != 39 {
		t.Errorf("valid = %d, want 39", got.Valid())
	}
}
