//go:build !linux

package kernel

import (
	"errors"

	"github.com/psaab/bbrd/pkg/mroute"
)

// ErrUnsupported is returned on platforms without MRT6 support.
var ErrUnsupported = errors.New("multicast routing socket is only supported on linux")

// Backend is unavailable on this platform.
type Backend struct{}

var _ mroute.Backend = (*Backend)(nil)

// New always fails on this platform.
func New() (*Backend, error) { return nil, ErrUnsupported }

func (b *Backend) Release() {}

func (b *Backend) Open(mroute.Interfaces) error { return ErrUnsupported }

func (b *Backend) Close() error { return mroute.ErrClosed }

func (b *Backend) AddRoute(mroute.Route, mroute.Mif, mroute.Mif) error { return ErrUnsupported }

func (b *Backend) DelRoute(mroute.Route, mroute.Mif) error { return ErrUnsupported }

func (b *Backend) Counters(mroute.Route) (mroute.Counters, error) {
	return mroute.Counters{}, ErrUnsupported
}

func (b *Backend) ReadUpcall() (mroute.Upcall, error) { return mroute.Upcall{}, ErrUnsupported }
