package kernel

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"github.com/vishvananda/netlink"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/psaab/bbrd/pkg/mroute"
)

// upcallBufferSize bounds a single read from the routing socket.
const upcallBufferSize = 128

// Backend is the kernel MRT6 implementation of mroute.Backend.
type Backend struct {
	nlHandle *netlink.Handle

	mu   sync.Mutex
	conn *net.IPConn
	raw  syscall.RawConn
}

var _ mroute.Backend = (*Backend)(nil)

// New creates a kernel backend. The routing socket is opened by Open.
func New() (*Backend, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("netlink handle: %w", err)
	}
	return &Backend{nlHandle: h}, nil
}

// Release closes the socket if open and releases the netlink handle.
func (b *Backend) Release() {
	b.Close()
	b.nlHandle.Close()
}

// Open creates the routing socket, enables multicast forwarding on it,
// blocks every ICMPv6 message so only upcalls are delivered, and registers
// the Thread and Backbone interfaces as MIFs.
func (b *Backend) Open(ifaces mroute.Interfaces) error {
	b.mu.Lock()
	open := b.conn != nil
	b.mu.Unlock()
	if open {
		return nil
	}

	threadIdx, err := b.linkIndex(ifaces.Thread)
	if err != nil {
		return err
	}
	backboneIdx, err := b.linkIndex(ifaces.Backbone)
	if err != nil {
		return err
	}

	c, err := net.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return fmt.Errorf("open routing socket: %w", err)
	}
	conn := c.(*net.IPConn)
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return fmt.Errorf("routing socket fd: %w", err)
	}
	b.mu.Lock()
	b.conn, b.raw = conn, raw
	b.mu.Unlock()

	if err := b.control(func(fd int) error {
		return os.NewSyscallError("setsockopt MRT6_INIT", unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, mrt6Init, 1))
	}); err != nil {
		return err
	}

	var filter ipv6.ICMPFilter
	filter.SetAll(true)
	if err := ipv6.NewPacketConn(conn).SetICMPFilter(&filter); err != nil {
		return fmt.Errorf("set ICMPv6 filter: %w", err)
	}

	for _, mif := range []struct {
		idx     mroute.Mif
		ifindex int
		name    string
	}{
		{mroute.MifThread, threadIdx, ifaces.Thread},
		{mroute.MifBackbone, backboneIdx, ifaces.Backbone},
	} {
		ctl := marshalMif6ctl(mif.idx, uint16(mif.ifindex), 1, 0)
		if err := b.control(func(fd int) error {
			return os.NewSyscallError("setsockopt MRT6_ADD_MIF",
				unix.SetsockoptString(fd, unix.IPPROTO_IPV6, mrt6AddMif, string(ctl)))
		}); err != nil {
			return fmt.Errorf("add MIF %s (%s): %w", mif.idx, mif.name, err)
		}
		slog.Debug("mroute: MIF registered", "mif", mif.idx, "interface", mif.name, "ifindex", mif.ifindex)
	}
	return nil
}

func (b *Backend) linkIndex(name string) (int, error) {
	link, err := b.nlHandle.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("interface %s not found: %w", name, err)
	}
	attrs := link.Attrs()
	if attrs.Flags&net.FlagUp == 0 {
		slog.Warn("mroute: interface is down", "interface", name)
	}
	return attrs.Index, nil
}

// Close closes the routing socket. The kernel drops every MIF and
// forwarding cache entry owned by it.
func (b *Backend) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn, b.raw = nil, nil
	b.mu.Unlock()
	if conn == nil {
		return mroute.ErrClosed
	}
	return conn.Close()
}

// AddRoute installs an MFC entry forwarding r from iif to oif.
func (b *Backend) AddRoute(r mroute.Route, iif, oif mroute.Mif) error {
	ctl := marshalMf6cctl(r, iif, oif)
	return b.control(func(fd int) error {
		return os.NewSyscallError("setsockopt MRT6_ADD_MFC",
			unix.SetsockoptString(fd, unix.IPPROTO_IPV6, mrt6AddMfc, string(ctl)))
	})
}

// DelRoute removes the MFC entry for r.
func (b *Backend) DelRoute(r mroute.Route, iif mroute.Mif) error {
	ctl := marshalMf6cctl(r, iif, mroute.MifNone)
	err := b.control(func(fd int) error {
		return os.NewSyscallError("setsockopt MRT6_DEL_MFC",
			unix.SetsockoptString(fd, unix.IPPROTO_IPV6, mrt6DelMfc, string(ctl)))
	})
	if errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("%w: %w", mroute.ErrRouteNotFound, err)
	}
	return err
}

// Counters queries the packet counters of r with SIOCGETSGCNT_IN6.
func (b *Backend) Counters(r mroute.Route) (mroute.Counters, error) {
	req := marshalSiocSgReq6(r)
	err := b.control(func(fd int) error {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), siocGetSGCntIn6,
			uintptr(unsafe.Pointer(&req[0])))
		if errno != 0 {
			return os.NewSyscallError("ioctl SIOCGETSGCNT_IN6", errno)
		}
		return nil
	})
	if err != nil {
		return mroute.Counters{}, err
	}
	return unmarshalSiocSgReq6(req), nil
}

// ReadUpcall blocks until the kernel delivers an upcall on the routing
// socket and decodes it.
func (b *Backend) ReadUpcall() (mroute.Upcall, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return mroute.Upcall{}, mroute.ErrClosed
	}

	buf := make([]byte, upcallBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return mroute.Upcall{}, mroute.ErrClosed
		}
		return mroute.Upcall{}, fmt.Errorf("read routing socket: %w", err)
	}
	return mroute.DecodeUpcall(buf[:n])
}

// control runs fn against the routing socket descriptor.
func (b *Backend) control(fn func(fd int) error) error {
	b.mu.Lock()
	raw := b.raw
	b.mu.Unlock()
	if raw == nil {
		return mroute.ErrClosed
	}

	var opErr error
	if err := raw.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	}); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return mroute.ErrClosed
		}
		return err
	}
	return opErr
}
