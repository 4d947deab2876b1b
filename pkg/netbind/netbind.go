// Package netbind provides the default transport.LinkProvider used by
// the CLI. The multi-network binding helper (Wi-Fi vs. cellular
// selection) is out of the core's scope entirely — the core treats
// link selection as an opaque call against an injected provider. This
// package supplies the headless stand-in: real Wi-Fi/cellular binding
// is platform-specific system UI that has no portable Go equivalent,
// so OpenLinkSettings is a documented no-op here, and a headless
// implementation is free to return false without raising an error.
package netbind

import (
	"context"
	"sync/atomic"
)

// Headless is a transport.LinkProvider that never actually changes the
// active link. DefaultNetID always returns the same id until Advance is
// called, which a test harness or an external helper process can use to
// simulate a user completing the system link-switch UI.
type Headless struct {
	id atomic.Int64
}

// NewHeadless creates a Headless provider starting at net id 1 (0 is
// reserved for "unknown/none").
func NewHeadless() *Headless {
	h := &Headless{}
	h.id.Store(1)
	return h
}

func (h *Headless) DefaultNetID(ctx context.Context) (int, error) {
	return int(h.id.Load()), nil
}

// OpenLinkSettings is a no-op: there is no portable way to raise the
// OS's network-settings UI, and a headless implementation is allowed
// to return false without raising an error.
func (h *Headless) OpenLinkSettings(ctx context.Context) bool {
	return false
}

// Advance bumps the reported network id, simulating the user switching
// links in the system UI an external supervisor process opened on this
// provider's behalf.
func (h *Headless) Advance() {
	h.id.Add(1)
}
