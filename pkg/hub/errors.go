package hub

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrNotConnected = errors.New("address not connected")
	ErrHubClosed    = errors.New("hub is already closed")
)

// NotConnectedError is returned when sending to an address the hub has no
// session for.
type NotConnectedError struct {
	Addr netip.AddrPort
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("address %s not connected", e.Addr)
}

func (e *NotConnectedError) Is(target error) bool {
	return target == ErrNotConnected
}

// BindError is returned by New when either socket cannot be bound.
type BindError struct {
	Network string
	Addr    string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("unable to open %s port %s: %v", e.Network, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
