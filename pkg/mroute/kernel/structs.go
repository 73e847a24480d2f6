// Package kernel programs the Linux IPv6 multicast forwarding cache through
// an MRT6 routing socket.
package kernel

import (
	"math/bits"
	"net/netip"

	"github.com/josharian/native"

	"github.com/psaab/bbrd/pkg/mroute"
)

// Socket options and ioctls from linux/mroute6.h.
const (
	mrt6Init   = 200
	mrt6AddMif = 202
	mrt6AddMfc = 204
	mrt6DelMfc = 205

	siocGetSGCntIn6 = 0x89e0 + 1 // SIOCPROTOPRIVATE + 1
)

const (
	afInet6 = 10

	sizeofSockaddrInet6 = 28
	sizeofMif6ctl       = 12
	sizeofMf6cctl       = 2*sizeofSockaddrInet6 + 4 + ifSetWords*4
	ifSetWords          = 256 / 32

	longSize         = bits.UintSize / 8
	sizeofSiocSgReq6 = 2*sizeofSockaddrInet6 + longPad + 3*longSize
	longPad          = (longSize - (2*sizeofSockaddrInet6)%longSize) % longSize
)

// mif6ctl registers a physical interface as a MIF:
//
//	u16 mifi | u8 flags | u8 threshold | u16 pifi | pad | u32 rate_limit
func marshalMif6ctl(mif mroute.Mif, ifindex uint16, threshold uint8, rateLimit uint32) []byte {
	b := make([]byte, sizeofMif6ctl)
	native.Endian.PutUint16(b[0:2], uint16(mif))
	b[2] = 0
	b[3] = threshold
	native.Endian.PutUint16(b[4:6], ifindex)
	native.Endian.PutUint32(b[8:12], rateLimit)
	return b
}

func putSockaddrInet6(b []byte, addr netip.Addr) {
	native.Endian.PutUint16(b[0:2], afInet6)
	a := addr.As16()
	copy(b[8:24], a[:])
}

// mf6cctl describes one forwarding cache entry:
//
//	sockaddr_in6 origin | sockaddr_in6 mcastgrp | u16 parent | pad | u32 ifset[8]
func marshalMf6cctl(r mroute.Route, iif, oif mroute.Mif) []byte {
	b := make([]byte, sizeofMf6cctl)
	putSockaddrInet6(b[0:], r.Source)
	putSockaddrInet6(b[sizeofSockaddrInet6:], r.Group)
	native.Endian.PutUint16(b[56:58], uint16(iif))
	if oif != mroute.MifNone {
		word := 60 + int(oif/32)*4
		native.Endian.PutUint32(b[word:word+4], 1<<(uint(oif)%32))
	}
	return b
}

// sioc_sg_req6 is both the request and the reply of SIOCGETSGCNT_IN6:
//
//	sockaddr_in6 src | sockaddr_in6 grp | ulong pktcnt | ulong bytecnt | ulong wrong_if
func marshalSiocSgReq6(r mroute.Route) []byte {
	b := make([]byte, sizeofSiocSgReq6)
	putSockaddrInet6(b[0:], r.Source)
	putSockaddrInet6(b[sizeofSockaddrInet6:], r.Group)
	return b
}

func unmarshalSiocSgReq6(b []byte) mroute.Counters {
	off := 2*sizeofSockaddrInet6 + longPad
	return mroute.Counters{
		Packets: readULong(b[off:]),
		Bytes:   readULong(b[off+longSize:]),
		WrongIf: readULong(b[off+2*longSize:]),
	}
}

func readULong(b []byte) uint64 {
	if longSize == 8 {
		return native.Endian.Uint64(b)
	}
	return uint64(native.Endian.Uint32(b))
}
