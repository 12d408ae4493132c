package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/sggenna/fluency/core/user"
)

// Portal is one of the two role-specific application surfaces.
type Portal string

const (
	PortalStudent Portal = "student"
	PortalTeacher Portal = "teacher"
)

// Role returns the account role a portal requires.
func (p Portal) Role() string {
	if p == PortalTeacher {
		return user.RoleTeacher
	}
	return user.RoleStudent
}

func (p Portal) Label() string { return string(p) + " portal" }

// GateState is the router's explicit state, decoupled from any UI toolkit.
type GateState int

const (
	// GateIdle: no portal selected; no session requirement.
	GateIdle GateState = iota
	// GateLogin: a portal is selected but there is no matching session;
	// a login prompt scoped to the portal should be shown.
	GateLogin
	// GateAuthenticating: a login for the selected portal is in flight.
	GateAuthenticating
	// GateDenied: the session's role does not match the selected portal;
	// the session has been terminated and Reason explains why.
	GateDenied
	// GateGranted: the portal may render; the user's role is guaranteed
	// to match it.
	GateGranted
)

// GateView is what the rendering layer consumes.
type GateView struct {
	State  GateState
	Portal Portal
	Reason string
	User   *user.User
}

// Gate decides whether to show a portal selection, a login prompt, an
// access-denied state or the target portal. A role mismatch is treated as an
// authentication failure: the session is logged out rather than left
// lingering, so a rendered portal always implies a matching role.
type Gate struct {
	mgr *Manager

	mu     sync.Mutex
	state  GateState
	portal Portal
	reason string
}

func NewGate(mgr *Manager) *Gate {
	return &Gate{mgr: mgr}
}

func (g *Gate) View() GateView {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := GateView{State: g.state, Portal: g.portal, Reason: g.reason}
	if g.state == GateGranted {
		v.User = g.mgr.Snapshot().User
	}
	return v
}

// Select picks the portal the user wants to enter. An already-authenticated
// session is admitted (or denied) immediately; otherwise a login is required.
func (g *Gate) Select(p Portal) {
	snap := g.mgr.Snapshot()

	g.mu.Lock()
	g.portal = p
	g.reason = ""
	admitted := true
	if snap.User != nil {
		admitted = g.admitLocked(*snap.User)
	} else {
		g.state = GateLogin
	}
	g.mu.Unlock()
	if !admitted {
		g.mgr.Logout()
	}
}

// Submit runs a login scoped to the selected portal.
func (g *Gate) Submit(ctx context.Context, email, password string) error {
	g.mu.Lock()
	if g.state != GateLogin && g.state != GateDenied {
		g.mu.Unlock()
		return nil
	}
	p := g.portal
	g.state = GateAuthenticating
	g.reason = ""
	g.mu.Unlock()

	usr, err := g.mgr.Login(ctx, email, password, p.Role())

	g.mu.Lock()
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			// a newer attempt owns the gate now
			g.mu.Unlock()
			return err
		}
		g.state = GateLogin
		g.reason = g.mgr.Snapshot().Err
		g.mu.Unlock()
		return err
	}
	admitted := g.admitLocked(usr)
	g.mu.Unlock()
	if !admitted {
		g.mgr.Logout()
	}
	return nil
}

// Back clears the pending portal selection.
func (g *Gate) Back() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GateGranted {
		return
	}
	g.state = GateIdle
	g.portal = ""
	g.reason = ""
}

// Logout terminates the session and returns the router to portal selection.
func (g *Gate) Logout() {
	g.mgr.Logout()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = GateIdle
	g.portal = ""
	g.reason = ""
}

// admitLocked enforces the role gate and reports whether the user was
// admitted. On a mismatch the caller must terminate the session after
// releasing g.mu: Manager.Logout notifies its subscribers synchronously,
// and a subscriber may call back into the gate.
func (g *Gate) admitLocked(usr user.User) bool {
	if usr.Role == g.portal.Role() {
		g.state = GateGranted
		g.reason = ""
		return true
	}
	g.state = GateDenied
	g.reason = fmt.Sprintf("please use a %s account to access the %s", g.portal, g.portal.Label())
	return false
}
