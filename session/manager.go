package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"github.com/sggenna/fluency/core"
	"github.com/sggenna/fluency/core/user"
)

// State names the session state machine's states.
//
//	Initializing -> Anonymous | Verifying
//	Verifying    -> Authenticated | Anonymous (token wiped)
//	Anonymous    -> LoggingIn
//	LoggingIn    -> Authenticated | Anonymous/Authenticated (prior session kept)
//	Authenticated-> Anonymous (logout) | Verifying (refresh)
type State int

const (
	StateInitializing State = iota
	StateVerifying
	StateAnonymous
	StateLoggingIn
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateVerifying:
		return "verifying"
	case StateAnonymous:
		return "anonymous"
	case StateLoggingIn:
		return "logging-in"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Snapshot is an immutable view of the session at a point in time.
// User != nil implies Token != "".
type Snapshot struct {
	State State
	Token string
	User  *user.User
	Err   string
}

func (s Snapshot) Loading() bool {
	return s.State == StateInitializing || s.State == StateVerifying || s.State == StateLoggingIn
}

var (
	// ErrSuperseded is returned to a caller whose login attempt was
	// overtaken by a newer login or a logout; its result was discarded.
	ErrSuperseded = errors.New("attempt superseded")

	genericLoginMsg = "unable to sign in, please try again"
)

// Manager is the single source of truth for "who is logged in right now",
// reconciling the durable token with server-verified identity.
// Construct one at app startup; UI surfaces observe it via Subscribe.
type Manager struct {
	api   IdentityAPI
	store Store

	mu     sync.Mutex
	state  State
	token  string
	usr    *user.User
	errMsg string

	// every in-flight login/verification is tagged with the epoch current
	// at its start; a settled attempt whose tag is stale is discarded.
	// Logout and newer attempts bump the epoch and cancel the old context
	// so a late response can never resurrect a cleared session.
	epoch  uint64
	cancel context.CancelFunc

	subs    map[int]func(Snapshot)
	nextSub int
}

func NewManager(api IdentityAPI, store Store) *Manager {
	return &Manager{
		api:   api,
		store: store,
		state: StateInitializing,
		token: store.Get(),
		subs:  make(map[int]func(Snapshot)),
	}
}

// Subscribe registers fn to be called after every state change.
// The returned func unsubscribes.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Bootstrap resolves the initial session: straight to Anonymous when no
// token was stored, otherwise the token is verified against the identity
// endpoint. An invalid or unverifiable token is wiped silently.
func (m *Manager) Bootstrap(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateInitializing {
		m.mu.Unlock()
		return
	}
	if m.token == "" {
		m.state = StateAnonymous
		m.mu.Unlock()
		m.notify()
		return
	}
	cctx, epoch := m.beginLocked(ctx, StateVerifying)
	token := m.token
	m.mu.Unlock()
	m.notify()

	usr, err := m.api.Me(cctx, token)
	m.settleVerify(epoch, usr, err)
}

// RefreshUser re-derives the current user from the stored token, eg. after
// a profile edit. It is a passive check: it never fails — an invalid token
// resolves to "no user" (and is wiped, fail-closed) rather than erroring.
// Without a token it resolves immediately, no network call is made.
func (m *Manager) RefreshUser(ctx context.Context) *user.User {
	m.mu.Lock()
	if m.token == "" {
		if m.state == StateInitializing {
			m.state = StateAnonymous
			m.mu.Unlock()
			m.notify()
		} else {
			m.mu.Unlock()
		}
		return nil
	}
	cctx, epoch := m.beginLocked(ctx, StateVerifying)
	token := m.token
	m.mu.Unlock()
	m.notify()

	usr, err := m.api.Me(cctx, token)
	m.settleVerify(epoch, usr, err)
	return m.Snapshot().User
}

// Login authenticates against the identity endpoint. The email is trimmed
// and lower-cased before sending. On success the token is persisted and the
// returned user becomes current; on failure no token is written and a prior
// authenticated session, if any, is left untouched.
func (m *Manager) Login(ctx context.Context, email, password, role string) (user.User, error) {
	email = core.CleanString(email, true /* lower */)

	m.mu.Lock()
	cctx, epoch := m.beginLocked(ctx, StateLoggingIn)
	m.errMsg = ""
	m.mu.Unlock()
	m.notify()

	res, err := m.api.Login(cctx, email, password, role)

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return user.User{}, ErrSuperseded
	}
	m.cancel = nil

	if err != nil {
		if authErr, ok := IsAuthError(err); ok {
			m.errMsg = authErr.Message
		} else {
			m.errMsg = genericLoginMsg
		}
		// a failed login does not log out an already-authenticated user
		if m.usr != nil && m.token != "" {
			m.state = StateAuthenticated
		} else {
			// an unverified token may linger here when this login superseded
			// a bootstrap/refresh verification; nothing can vouch for it now
			if m.token != "" {
				m.token = ""
				m.store.Set("")
			}
			m.state = StateAnonymous
		}
		m.mu.Unlock()
		m.notify()
		return user.User{}, err
	}

	usr := res.User
	m.token = res.Token
	m.usr = &usr
	m.errMsg = ""
	m.state = StateAuthenticated
	m.store.Set(res.Token)
	m.mu.Unlock()
	m.notify()
	return res.User, nil
}

// Logout always succeeds: it clears the persisted token and the in-memory
// session synchronously and cancels any in-flight verification or login.
// Calling it twice is a no-op the second time.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.epoch++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.token = ""
	m.usr = nil
	m.errMsg = ""
	m.state = StateAnonymous
	m.store.Set("")
	m.mu.Unlock()
	m.notify()
}

// UpdateMe pushes a profile update for the current user. Unlike RefreshUser
// this is an explicit user action, so failures are returned to the caller;
// a 401 additionally wipes the session (fail-closed).
func (m *Manager) UpdateMe(ctx context.Context, up user.UpdateProfile) (user.User, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if token == "" {
		return user.User{}, &AuthError{Status: http.StatusUnauthorized, Message: "not authenticated"}
	}

	usr, err := m.api.UpdateMe(ctx, token, up)
	if err != nil {
		if authErr, ok := IsAuthError(err); ok && authErr.Status == http.StatusUnauthorized {
			m.mu.Lock()
			if token == m.token {
				m.epoch++
				if m.cancel != nil {
					m.cancel()
					m.cancel = nil
				}
				m.token = ""
				m.usr = nil
				m.state = StateAnonymous
				m.store.Set("")
			}
			m.mu.Unlock()
			m.notify()
		}
		return user.User{}, err
	}

	m.mu.Lock()
	if token == m.token { // guard against a logout that raced the update
		u := usr
		m.usr = &u
	}
	m.mu.Unlock()
	m.notify()
	return usr, nil
}

// ClearError clears only the error field.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.errMsg = ""
	m.mu.Unlock()
	m.notify()
}

// beginLocked starts a new authoritative attempt: it supersedes (and
// cancels) any in-flight one. Call with m.mu held.
func (m *Manager) beginLocked(ctx context.Context, st State) (context.Context, uint64) {
	if m.cancel != nil {
		m.cancel()
	}
	cctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.epoch++
	m.state = st
	return cctx, m.epoch
}

func (m *Manager) settleVerify(epoch uint64, usr user.User, err error) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.cancel = nil

	if err != nil {
		// fail-closed: a rejected or unverifiable token is wiped, not retried
		m.token = ""
		m.usr = nil
		m.state = StateAnonymous
		m.store.Set("")
		m.mu.Unlock()
		m.notify()
		return
	}

	m.usr = &usr
	m.state = StateAuthenticated
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		State: m.state,
		Token: m.token,
		Err:   m.errMsg,
	}
	if m.usr != nil {
		u := *m.usr
		snap.User = &u
	}
	return snap
}

func (m *Manager) notify() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
