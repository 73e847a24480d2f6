package mroute

import (
	"fmt"
	"net/netip"

	"github.com/josharian/native"
)

// Upcall message types (linux/mroute6.h).
const (
	MsgNoCache  uint8 = 1
	MsgWrongMif uint8 = 2
	MsgWholePkt uint8 = 3
)

// SizeofMrt6msg is the wire size of struct mrt6msg.
const SizeofMrt6msg = 40

// Upcall is a decoded kernel multicast routing message.
type Upcall struct {
	Type   uint8
	Mif    Mif
	Source netip.Addr
	Group  netip.Addr

	session uint64
}

func (u Upcall) String() string {
	return fmt.Sprintf("type=%d mif=%s %s => %s", u.Type, u.Mif, u.Source, u.Group)
}

// DecodeUpcall parses an mrt6msg record:
//
//	u8 mbz | u8 type | u16 mif | u32 pad | src[16] | dst[16]
func DecodeUpcall(b []byte) (Upcall, error) {
	if len(b) < SizeofMrt6msg {
		return Upcall{}, fmt.Errorf("%w: %d bytes, want %d", ErrShortMessage, len(b), SizeofMrt6msg)
	}
	if b[0] != 0 {
		return Upcall{}, fmt.Errorf("%w: mbz=%d", ErrMalformed, b[0])
	}
	mif := native.Endian.Uint16(b[2:4])
	if mif > 0xff {
		return Upcall{}, fmt.Errorf("%w: mif %d out of range", ErrInvalidArgument, mif)
	}
	return Upcall{
		Type:   b[1],
		Mif:    Mif(mif),
		Source: netip.AddrFrom16([16]byte(b[8:24])),
		Group:  netip.AddrFrom16([16]byte(b[24:40])),
	}, nil
}

// EncodeUpcall is the inverse of DecodeUpcall.
func EncodeUpcall(u Upcall) []byte {
	b := make([]byte, SizeofMrt6msg)
	b[1] = u.Type
	native.Endian.PutUint16(b[2:4], uint16(u.Mif))
	src := u.Source.As16()
	grp := u.Group.As16()
	copy(b[8:24], src[:])
	copy(b[24:40], grp[:])
	return b
}
