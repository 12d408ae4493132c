package session

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/sggenna/fluency/core/user"
)

type fakeAPI struct {
	mu          sync.Mutex
	loginFn     func(ctx context.Context, email, password, role string) (LoginResult, error)
	meFn        func(ctx context.Context, token string) (user.User, error)
	updateFn    func(ctx context.Context, token string, up user.UpdateProfile) (user.User, error)
	loginCalls  int
	meCalls     int
	updateCalls int
}

func (f *fakeAPI) Login(ctx context.Context, email, password, role string) (LoginResult, error) {
	f.mu.Lock()
	f.loginCalls++
	fn := f.loginFn
	f.mu.Unlock()
	if fn == nil {
		return LoginResult{}, errors.New("unexpected Login call")
	}
	return fn(ctx, email, password, role)
}

func (f *fakeAPI) Me(ctx context.Context, token string) (user.User, error) {
	f.mu.Lock()
	f.meCalls++
	fn := f.meFn
	f.mu.Unlock()
	if fn == nil {
		return user.User{}, errors.New("unexpected Me call")
	}
	return fn(ctx, token)
}

func (f *fakeAPI) UpdateMe(ctx context.Context, token string, up user.UpdateProfile) (user.User, error) {
	f.mu.Lock()
	f.updateCalls++
	fn := f.updateFn
	f.mu.Unlock()
	if fn == nil {
		return user.User{}, errors.New("unexpected UpdateMe call")
	}
	return fn(ctx, token, up)
}

func testUser(email, role string) user.User {
	usr := user.User{
		ID:        "11111111-1111-1111-1111-111111111111",
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     email,
		Role:      role,
	}
	usr.SetActive(true)
	return usr
}

func TestManager_bootstrapNoToken(t *testing.T) {
	api := &fakeAPI{}
	mgr := NewManager(api, NewMemStore())

	mgr.Bootstrap(context.Background())

	snap := mgr.Snapshot()
	if snap.State != StateAnonymous {
		t.Errorf("state = %v, want anonymous", snap.State)
	}
	if snap.Loading() {
		t.Error("Loading() = true, want false")
	}
	if api.meCalls != 0 {
		t.Errorf("meCalls = %d, want 0 (no network call without a token)", api.meCalls)
	}
}

func TestManager_bootstrapValidToken(t *testing.T) {
	store := NewMemStore()
	store.Set("abc")
	usr := testUser("jane@example.com", user.RoleStudent)
	api := &fakeAPI{
		meFn: func(ctx context.Context, token string) (user.User, error) {
			if token != "abc" {
				t.Errorf("Me() token = %q, want %q", token, "abc")
			}
			return usr, nil
		},
	}
	mgr := NewManager(api, store)

	mgr.Bootstrap(context.Background())

	snap := mgr.Snapshot()
	if snap.State != StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", snap.State)
	}
	if snap.User == nil || snap.User.Email != "jane@example.com" {
		t.Errorf("user = %+v, want jane@example.com", snap.User)
	}
	if snap.Token != "abc" {
		t.Errorf("token = %q, want %q", snap.Token, "abc")
	}
}

// An expired session discovered on startup silently drops back to logged-out:
// the stored token is wiped and no error is surfaced.
func TestManager_bootstrapFailClosed(t *testing.T) {
	store := NewMemStore()
	store.Set("stale-token")
	api := &fakeAPI{
		meFn: func(ctx context.Context, token string) (user.User, error) {
			return user.User{}, &AuthError{Status: http.StatusUnauthorized, Message: "HTTP 401"}
		},
	}
	mgr := NewManager(api, store)

	mgr.Bootstrap(context.Background())

	snap := mgr.Snapshot()
	if snap.State != StateAnonymous {
		t.Errorf("state = %v, want anonymous", snap.State)
	}
	if snap.User != nil {
		t.Errorf("user = %+v, want nil", snap.User)
	}
	if got := store.Get(); got != "" {
		t.Errorf("store.Get() = %q, want cleared", got)
	}
	if snap.Err != "" {
		t.Errorf("err = %q, want none (expired sessions are not exceptional)", snap.Err)
	}
}

func TestManager_loginHappyPath(t *testing.T) {
	store := NewMemStore()
	api := &fakeAPI{
		loginFn: func(ctx context.Context, email, password, role string) (LoginResult, error) {
			if email != "jane@example.com" {
				t.Errorf("login email = %q, want normalized %q", email, "jane@example.com")
			}
			if role != user.RoleStudent {
				t.Errorf("login role = %q, want %q", role, user.RoleStudent)
			}
			return LoginResult{Token: "abc", User: testUser("jane@example.com", user.RoleStudent)}, nil
		},
	}
	mgr := NewManager(api, store)
	mgr.Bootstrap(context.Background())

	usr, err := mgr.Login(context.Background(), "  Jane@Example.com ", "secret", user.RoleStudent)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if usr.Email != "jane@example.com" {
		t.Errorf("user email = %q, want %q", usr.Email, "jane@example.com")
	}
	if got := store.Get(); got != "abc" {
		t.Errorf("store.Get() = %q, want %q", got, "abc")
	}
	snap := mgr.Snapshot()
	if snap.State != StateAuthenticated || snap.Err != "" {
		t.Errorf("snapshot = %+v, want clean authenticated", snap)
	}
}

// A failed re-login does not destroy the prior authenticated session.
func TestManager_failedLoginPreservesSession(t *testing.T) {
	store := NewMemStore()
	store.Set("abc")
	usrA := testUser("a@example.com", user.RoleStudent)
	api := &fakeAPI{
		meFn: func(ctx context.Context, token string) (user.User, error) { return usrA, nil },
	}
	mgr := NewManager(api, store)
	mgr.Bootstrap(context.Background())

	api.mu.Lock()
	api.loginFn = func(ctx context.Context, email, password, role string) (LoginResult, error) {
		return LoginResult{}, &AuthError{Status: http.StatusBadRequest, Message: "authentication failed"}
	}
	api.mu.Unlock()

	if _, err := mgr.Login(context.Background(), "b@example.com", "nope", user.RoleStudent); err == nil {
		t.Fatal("Login() error = nil, want failure")
	}

	snap := mgr.Snapshot()
	if snap.State != StateAuthenticated {
		t.Errorf("state = %v, want authenticated (prior session kept)", snap.State)
	}
	if snap.User == nil || snap.User.Email != "a@example.com" {
		t.Errorf("user = %+v, want a@example.com", snap.User)
	}
	if got := store.Get(); got != "abc" {
		t.Errorf("store.Get() = %q, want untouched %q", got, "abc")
	}
	if snap.Err != "authentication failed" {
		t.Errorf("err = %q, want server message", snap.Err)
	}
}

func TestManager_failedLoginGenericMessage(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(ctx context.Context, email, password, role string) (LoginResult, error) {
			return LoginResult{}, errors.New("dial tcp: connection refused")
		},
	}
	mgr := NewManager(api, NewMemStore())
	mgr.Bootstrap(context.Background())

	if _, err := mgr.Login(context.Background(), "a@example.com", "pwd", ""); err == nil {
		t.Fatal("Login() error = nil, want failure")
	}
	if snap := mgr.Snapshot(); snap.Err != genericLoginMsg {
		t.Errorf("err = %q, want generic fallback %q", snap.Err, genericLoginMsg)
	}
}

func TestManager_logoutIdempotent(t *testing.T) {
	store := NewMemStore()
	store.Set("abc")
	api := &fakeAPI{
		meFn: func(ctx context.Context, token string) (user.User, error) {
			return testUser("a@example.com", user.RoleStudent), nil
		},
	}
	mgr := NewManager(api, store)
	mgr.Bootstrap(context.Background())

	mgr.Logout()
	first := mgr.Snapshot()
	mgr.Logout()
	second := mgr.Snapshot()

	for _, snap := range []Snapshot{first, second} {
		if snap.State != StateAnonymous || snap.User != nil || snap.Token != "" || snap.Err != "" {
			t.Errorf("snapshot = %+v, want clean anonymous", snap)
		}
	}
	if got := store.Get(); got != "" {
		t.Errorf("store.Get() = %q, want cleared", got)
	}
}

// Two overlapping logins: the most recently issued attempt wins even when the
// older one settles last; the stale response is discarded.
func TestManager_staleLoginDiscarded(t *testing.T) {
	aStarted := make(chan struct{})
	aRelease := make(chan struct{})

	usrA := testUser("a@example.com", user.RoleStudent)
	usrB := testUser("b@example.com", user.RoleStudent)

	api := &fakeAPI{}
	api.loginFn = func(ctx context.Context, email, password, role string) (LoginResult, error) {
		if email == "a@example.com" {
			close(aStarted)
			<-aRelease
			return LoginResult{Token: "token-a", User: usrA}, nil
		}
		return LoginResult{Token: "token-b", User: usrB}, nil
	}

	store := NewMemStore()
	mgr := NewManager(api, store)
	mgr.Bootstrap(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := mgr.Login(context.Background(), "a@example.com", "pwd", user.RoleStudent)
		errc <- err
	}()
	<-aStarted

	if _, err := mgr.Login(context.Background(), "b@example.com", "pwd", user.RoleStudent); err != nil {
		t.Fatalf("Login(B) error = %v", err)
	}
	close(aRelease)

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Login(A) error = %v, want ErrSuperseded", err)
	}

	snap := mgr.Snapshot()
	if snap.User == nil || snap.User.Email != "b@example.com" {
		t.Errorf("user = %+v, want B's result", snap.User)
	}
	if snap.Token != "token-b" || store.Get() != "token-b" {
		t.Errorf("token = %q / stored %q, want token-b", snap.Token, store.Get())
	}
}

// A logout issued while a verification is in flight cancels it; the late
// response must not resurrect the cleared session.
func TestManager_logoutCancelsInflightVerify(t *testing.T) {
	meStarted := make(chan struct{})
	meRelease := make(chan struct{})

	store := NewMemStore()
	store.Set("abc")
	api := &fakeAPI{
		meFn: func(ctx context.Context, token string) (user.User, error) {
			close(meStarted)
			<-meRelease
			// settle successfully despite the cancelled context
			return testUser("a@example.com", user.RoleStudent), nil
		},
	}
	mgr := NewManager(api, store)

	done := make(chan struct{})
	go func() {
		mgr.Bootstrap(context.Background())
		close(done)
	}()
	<-meStarted

	mgr.Logout()
	close(meRelease)
	<-done

	snap := mgr.Snapshot()
	if snap.State != StateAnonymous || snap.User != nil || snap.Token != "" {
		t.Errorf("snapshot = %+v, want anonymous (late response discarded)", snap)
	}
	if got := store.Get(); got != "" {
		t.Errorf("store.Get() = %q, want cleared", got)
	}
}

// A login that supersedes an in-flight startup verification and then fails
// must not leave the never-verified token behind: anonymous means no token.
func TestManager_failedLoginDropsUnverifiedToken(t *testing.T) {
	meStarted := make(chan struct{})
	meRelease := make(chan struct{})

	store := NewMemStore()
	store.Set("stale")
	api := &fakeAPI{
		meFn: func(ctx context.Context, token string) (user.User, error) {
			close(meStarted)
			<-meRelease
			return testUser("a@example.com", user.RoleStudent), nil
		},
		loginFn: func(ctx context.Context, email, password, role string) (LoginResult, error) {
			return LoginResult{}, &AuthError{Status: http.StatusBadRequest, Message: "authentication failed"}
		},
	}
	mgr := NewManager(api, store)

	done := make(chan struct{})
	go func() {
		mgr.Bootstrap(context.Background())
		close(done)
	}()
	<-meStarted

	if _, err := mgr.Login(context.Background(), "a@example.com", "bad", user.RoleStudent); err == nil {
		t.Fatal("Login() error = nil, want failure")
	}
	close(meRelease)
	<-done

	snap := mgr.Snapshot()
	if snap.State != StateAnonymous || snap.User != nil {
		t.Errorf("snapshot = %+v, want anonymous", snap)
	}
	if snap.Token != "" {
		t.Errorf("token = %q, want wiped (its verification was superseded)", snap.Token)
	}
	if got := store.Get(); got != "" {
		t.Errorf("store.Get() = %q, want cleared", got)
	}
}

func TestManager_refreshUserNoToken(t *testing.T) {
	api := &fakeAPI{}
	mgr := NewManager(api, NewMemStore())
	mgr.Bootstrap(context.Background())

	if usr := mgr.RefreshUser(context.Background()); usr != nil {
		t.Errorf("RefreshUser() = %+v, want nil", usr)
	}
	if api.meCalls != 0 {
		t.Errorf("meCalls = %d, want 0", api.meCalls)
	}
}

func TestManager_refreshUserFailClosed(t *testing.T) {
	store := NewMemStore()
	store.Set("abc")
	calls := 0
	api := &fakeAPI{}
	api.meFn = func(ctx context.Context, token string) (user.User, error) {
		calls++
		if calls == 1 {
			return testUser("a@example.com", user.RoleStudent), nil
		}
		return user.User{}, &AuthError{Status: http.StatusUnauthorized, Message: "HTTP 401"}
	}
	mgr := NewManager(api, store)
	mgr.Bootstrap(context.Background())

	// token revoked server-side; the passive check resolves to "no user"
	// without erroring and wipes the token
	if usr := mgr.RefreshUser(context.Background()); usr != nil {
		t.Errorf("RefreshUser() = %+v, want nil", usr)
	}
	if got := store.Get(); got != "" {
		t.Errorf("store.Get() = %q, want cleared", got)
	}
	if snap := mgr.Snapshot(); snap.State != StateAnonymous || snap.Err != "" {
		t.Errorf("snapshot = %+v, want quiet anonymous", snap)
	}
}

func TestManager_clearError(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(ctx context.Context, email, password, role string) (LoginResult, error) {
			return LoginResult{}, &AuthError{Status: http.StatusBadRequest, Message: "authentication failed"}
		},
	}
	mgr := NewManager(api, NewMemStore())
	mgr.Bootstrap(context.Background())

	_, _ = mgr.Login(context.Background(), "a@example.com", "bad", "")
	if snap := mgr.Snapshot(); snap.Err == "" {
		t.Fatal("err empty, want login failure message")
	}

	mgr.ClearError()
	snap := mgr.Snapshot()
	if snap.Err != "" {
		t.Errorf("err = %q, want cleared", snap.Err)
	}
	if snap.State != StateAnonymous {
		t.Errorf("state = %v, ClearError must not otherwise change state", snap.State)
	}
}

func TestManager_subscribe(t *testing.T) {
	api := &fakeAPI{}
	mgr := NewManager(api, NewMemStore())

	var mu sync.Mutex
	var states []State
	unsub := mgr.Subscribe(func(snap Snapshot) {
		mu.Lock()
		states = append(states, snap.State)
		mu.Unlock()
	})

	mgr.Bootstrap(context.Background())

	mu.Lock()
	n := len(states)
	last := StateInitializing
	if n > 0 {
		last = states[n-1]
	}
	mu.Unlock()
	if n == 0 || last != StateAnonymous {
		t.Errorf("observed states = %v, want trailing anonymous", states)
	}

	unsub()
	mgr.Logout()
	mu.Lock()
	defer mu.Unlock()
	if len(states) != n {
		t.Errorf("received %d notifications after unsubscribe, want 0", len(states)-n)
	}
}

func TestManager_updateMe(t *testing.T) {
	store := NewMemStore()
	store.Set("abc")
	usr := testUser("a@example.com", user.RoleStudent)
	api := &fakeAPI{
		meFn: func(ctx context.Context, token string) (user.User, error) { return usr, nil },
		updateFn: func(ctx context.Context, token string, up user.UpdateProfile) (user.User, error) {
			updated := usr
			updated.FirstName = up.FirstName
			return updated, nil
		},
	}
	mgr := NewManager(api, store)
	mgr.Bootstrap(context.Background())

	got, err := mgr.UpdateMe(context.Background(), user.UpdateProfile{FirstName: "Janet"})
	if err != nil {
		t.Fatalf("UpdateMe() error = %v", err)
	}
	if got.FirstName != "Janet" {
		t.Errorf("FirstName = %q, want Janet", got.FirstName)
	}
	if snap := mgr.Snapshot(); snap.User == nil || snap.User.FirstName != "Janet" {
		t.Errorf("snapshot user = %+v, want refreshed", snap.User)
	}
}

func TestManager_updateMeRejectedTokenFailsClosed(t *testing.T) {
	store := NewMemStore()
	store.Set("abc")
	api := &fakeAPI{
		meFn: func(ctx context.Context, token string) (user.User, error) {
			return testUser("a@example.com", user.RoleStudent), nil
		},
		updateFn: func(ctx context.Context, token string, up user.UpdateProfile) (user.User, error) {
			return user.User{}, &AuthError{Status: http.StatusUnauthorized, Message: "HTTP 401"}
		},
	}
	mgr := NewManager(api, store)
	mgr.Bootstrap(context.Background())

	_, err := mgr.UpdateMe(context.Background(), user.UpdateProfile{FirstName: "X"})
	if err == nil {
		t.Fatal("UpdateMe() error = nil, want 401 surfaced to the explicit caller")
	}
	if got := store.Get(); got != "" {
		t.Errorf("store.Get() = %q, want cleared", got)
	}
	if snap := mgr.Snapshot(); snap.State != StateAnonymous {
		t.Errorf("state = %v, want anonymous", snap.State)
	}
}
