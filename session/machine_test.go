package session_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/0Ankit0/identitykit/authapi"
	interrors "github.com/0Ankit0/identitykit/internal/errors"
	"github.com/0Ankit0/identitykit/session"
	"github.com/0Ankit0/identitykit/tenants"
	"github.com/0Ankit0/identitykit/token"
	"github.com/0Ankit0/identitykit/users"
)

const (
	testUsername  = "alice"
	testPassword  = "Secret123"
	testTempToken = "tmp-1"
	wrongOTPCode  = "000000"
	rightOTPCode  = "123456"
)

// fakeAPI scripts the backend. Unset handlers fail the calling test via the
// returned error.
type fakeAPI struct {
	mu sync.Mutex

	loginFn    func(username, password string) (*authapi.LoginResult, error)
	signupFn   func(req authapi.SignupRequest) (*authapi.LoginResult, error)
	validateFn func(otpCode, tempToken string) (*token.Pair, error)
	meFn       func() (*authapi.Profile, error)
	logoutErr  error

	loginCalls  int
	logoutCalls int
	meCalls     int
}

func (f *fakeAPI) Login(_ context.Context, username, password string) (*authapi.LoginResult, error) {
	f.mu.Lock()
	f.loginCalls++
	fn := f.loginFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("unexpected Login call")
	}
	return fn(username, password)
}

func (f *fakeAPI) Signup(_ context.Context, req authapi.SignupRequest) (*authapi.LoginResult, error) {
	if f.signupFn == nil {
		return nil, errors.New("unexpected Signup call")
	}
	return f.signupFn(req)
}

func (f *fakeAPI) ValidateOTP(_ context.Context, otpCode, tempToken string) (*token.Pair, error) {
	if f.validateFn == nil {
		return nil, errors.New("unexpected ValidateOTP call")
	}
	return f.validateFn(otpCode, tempToken)
}

func (f *fakeAPI) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return f.logoutErr
}

func (f *fakeAPI) Me(context.Context) (*authapi.Profile, error) {
	f.mu.Lock()
	f.meCalls++
	fn := f.meFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("unexpected Me call")
	}
	return fn()
}

// fakeChannel records notification channel lifecycle calls.
type fakeChannel struct {
	mu         sync.Mutex
	openCalls  int
	closeCalls int
}

func (c *fakeChannel) Open(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openCalls++
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
}

func (c *fakeChannel) opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openCalls
}

func (c *fakeChannel) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

type machineFixture struct {
	store   *token.Store
	api     *fakeAPI
	channel *fakeChannel
	machine *session.Machine
}

func setupMachine(t *testing.T) *machineFixture {
	t.Helper()

	store := token.NewStore(nil)
	api := &fakeAPI{}
	channel := &fakeChannel{}

	machine, err := session.NewMachine(store, api, session.WithChannel(channel))
	require.NoError(t, err)

	return &machineFixture{store: store, api: api, channel: channel, machine: machine}
}

func grantResult() *authapi.LoginResult {
	return &authapi.LoginResult{
		Grant: &token.Pair{AccessToken: "atk-1", RefreshToken: "rtk-1", TokenType: "bearer"},
	}
}

func challengeResult() *authapi.LoginResult {
	return &authapi.LoginResult{Challenge: &authapi.Challenge{TempToken: testTempToken}}
}

func aliceProfile() *authapi.Profile {
	return &authapi.Profile{
		User: users.User{ID: "user-1", Username: testUsername, Email: "alice@example.com"},
		Tenants: []tenants.Tenant{
			{ID: "tenant-1", Name: "Acme", Role: users.RoleTenantAdmin},
			{ID: "tenant-2", Name: "Globex", Role: users.RoleTenantUser},
		},
	}
}

func (f *machineFixture) login(t *testing.T) {
	t.Helper()
	f.api.loginFn = func(string, string) (*authapi.LoginResult, error) { return grantResult(), nil }
	f.api.meFn = func() (*authapi.Profile, error) { return aliceProfile(), nil }

	state, err := f.machine.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.Equal(t, session.StateAuthenticated, state)
}

func TestMachine_LoginWithoutSecondFactor(t *testing.T) {
	f := setupMachine(t)
	f.api.loginFn = func(username, password string) (*authapi.LoginResult, error) {
		require.Equal(t, testUsername, username)
		require.Equal(t, testPassword, password)
		return grantResult(), nil
	}
	f.api.meFn = func() (*authapi.Profile, error) { return aliceProfile(), nil }

	state, err := f.machine.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.Equal(t, session.StateAuthenticated, state)
	require.Equal(t, testUsername, f.machine.User().Username)
	require.Equal(t, "atk-1", f.store.Get().AccessToken)
	require.Equal(t, "tenant-1", f.machine.ActiveTenant().ID)
	require.Equal(t, "tenant-1", f.store.TenantID())
	require.Equal(t, 1, f.channel.opens())
}

func TestMachine_LoginRejectedCredentials(t *testing.T) {
	f := setupMachine(t)
	f.api.loginFn = func(string, string) (*authapi.LoginResult, error) {
		return nil, authapi.InvalidCredentialsErr
	}

	state, err := f.machine.Login(context.Background(), testUsername, "wrong")
	require.ErrorIs(t, err, authapi.InvalidCredentialsErr)
	require.Equal(t, session.StateAnonymous, state)
	require.Nil(t, f.store.Get())
}

func TestMachine_LoginRequiresAnonymousState(t *testing.T) {
	f := setupMachine(t)
	f.login(t)

	_, err := f.machine.Login(context.Background(), testUsername, testPassword)
	require.ErrorIs(t, err, interrors.ErrNotAnonymous)
}

func TestMachine_SecondFactorFlow(t *testing.T) {
	f := setupMachine(t)
	f.api.loginFn = func(string, string) (*authapi.LoginResult, error) { return challengeResult(), nil }

	state, err := f.machine.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.Equal(t, session.StatePendingSecondFactor, state)
	require.True(t, f.machine.HasPendingChallenge())
	require.Nil(t, f.store.Get(), "no credentials before the factor is verified")

	f.api.validateFn = func(otpCode, tempToken string) (*token.Pair, error) {
		require.Equal(t, testTempToken, tempToken)
		if otpCode != rightOTPCode {
			return nil, interrors.ErrChallengeRejected
		}
		return &token.Pair{AccessToken: "atk-1", RefreshToken: "rtk-1", TokenType: "bearer"}, nil
	}
	f.api.meFn = func() (*authapi.Profile, error) { return aliceProfile(), nil }

	// A wrong code keeps the ticket usable.
	state, err = f.machine.VerifyOTP(context.Background(), wrongOTPCode)
	require.ErrorIs(t, err, interrors.ErrChallengeRejected)
	require.Equal(t, session.StatePendingSecondFactor, state)
	require.True(t, f.machine.HasPendingChallenge())

	state, err = f.machine.VerifyOTP(context.Background(), rightOTPCode)
	require.NoError(t, err)
	require.Equal(t, session.StateAuthenticated, state)
	require.Equal(t, testUsername, f.machine.User().Username)
	require.False(t, f.machine.HasPendingChallenge())
}

func TestMachine_ExpiredChallengeDropsToAnonymous(t *testing.T) {
	f := setupMachine(t)
	f.api.loginFn = func(string, string) (*authapi.LoginResult, error) { return challengeResult(), nil }

	_, err := f.machine.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	f.api.validateFn = func(string, string) (*token.Pair, error) {
		return nil, interrors.ErrChallengeExpired
	}

	state, err := f.machine.VerifyOTP(context.Background(), rightOTPCode)
	require.ErrorIs(t, err, interrors.ErrChallengeExpired)
	require.Equal(t, session.StateAnonymous, state)
	require.False(t, f.machine.HasPendingChallenge())
}

func TestMachine_VerifyOTPWithoutChallenge(t *testing.T) {
	f := setupMachine(t)

	_, err := f.machine.VerifyOTP(context.Background(), rightOTPCode)
	require.ErrorIs(t, err, interrors.ErrNoPendingFactor)
}

func TestMachine_Signup(t *testing.T) {
	t.Run("weak password never reaches the backend", func(t *testing.T) {
		f := setupMachine(t)

		_, err := f.machine.Signup(context.Background(), authapi.SignupRequest{
			Username: "carol",
			Password: "short",
		})
		require.Error(t, err)
	})

	t.Run("successful signup authenticates", func(t *testing.T) {
		f := setupMachine(t)
		f.api.signupFn = func(req authapi.SignupRequest) (*authapi.LoginResult, error) {
			require.Equal(t, "carol", req.Username)
			return grantResult(), nil
		}
		f.api.meFn = func() (*authapi.Profile, error) { return aliceProfile(), nil }

		state, err := f.machine.Signup(context.Background(), authapi.SignupRequest{
			Username: "carol",
			Email:    "carol@example.com",
			Password: testPassword,
		})
		require.NoError(t, err)
		require.Equal(t, session.StateAuthenticated, state)
	})
}

func TestMachine_Logout(t *testing.T) {
	t.Run("clears local state", func(t *testing.T) {
		f := setupMachine(t)
		f.login(t)

		require.NoError(t, f.machine.Logout(context.Background()))
		require.Equal(t, session.StateAnonymous, f.machine.State())
		require.Nil(t, f.store.Get())
		require.Nil(t, f.machine.User())
		require.Equal(t, 1, f.api.logoutCalls)
		require.Equal(t, 1, f.channel.closes())
	})

	t.Run("server failure still clears local state", func(t *testing.T) {
		f := setupMachine(t)
		f.login(t)
		f.api.logoutErr = errors.New("backend down")

		require.NoError(t, f.machine.Logout(context.Background()))
		require.Equal(t, session.StateAnonymous, f.machine.State())
		require.Nil(t, f.store.Get())
	})

	t.Run("keeps the tenant mirror for the next login", func(t *testing.T) {
		f := setupMachine(t)
		f.login(t)

		require.NoError(t, f.machine.Logout(context.Background()))
		require.Equal(t, "tenant-1", f.store.TenantID())
	})

	t.Run("anonymous logout skips the server", func(t *testing.T) {
		f := setupMachine(t)

		require.NoError(t, f.machine.Logout(context.Background()))
		require.Equal(t, 0, f.api.logoutCalls)
	})
}

func TestMachine_Restore(t *testing.T) {
	t.Run("silent restore from persisted credentials", func(t *testing.T) {
		f := setupMachine(t)
		require.NoError(t, f.store.Set(&token.Pair{AccessToken: "atk-1", RefreshToken: "rtk-1"}))
		f.api.meFn = func() (*authapi.Profile, error) { return aliceProfile(), nil }

		state, err := f.machine.Restore(context.Background())
		require.NoError(t, err)
		require.Equal(t, session.StateAuthenticated, state)
		require.Equal(t, testUsername, f.machine.User().Username)
		require.Equal(t, 0, f.api.loginCalls)
	})

	t.Run("empty store stays anonymous without a network call", func(t *testing.T) {
		f := setupMachine(t)

		state, err := f.machine.Restore(context.Background())
		require.NoError(t, err)
		require.Equal(t, session.StateAnonymous, state)
		require.Equal(t, 0, f.api.meCalls)
	})

	t.Run("rejected credentials clear the store", func(t *testing.T) {
		f := setupMachine(t)
		require.NoError(t, f.store.Set(&token.Pair{AccessToken: "atk-stale", RefreshToken: "rtk-stale"}))
		f.api.meFn = func() (*authapi.Profile, error) { return nil, interrors.ErrAuthorizationExpired }

		state, err := f.machine.Restore(context.Background())
		require.Error(t, err)
		require.Equal(t, session.StateAnonymous, state)
		require.Nil(t, f.store.Get())
	})

	t.Run("restores into the persisted tenant", func(t *testing.T) {
		f := setupMachine(t)
		require.NoError(t, f.store.Set(&token.Pair{AccessToken: "atk-1", RefreshToken: "rtk-1"}))
		require.NoError(t, f.store.SetTenant("tenant-2"))
		f.api.meFn = func() (*authapi.Profile, error) { return aliceProfile(), nil }

		_, err := f.machine.Restore(context.Background())
		require.NoError(t, err)
		require.Equal(t, "tenant-2", f.machine.ActiveTenant().ID)
	})

	t.Run("stale persisted tenant falls back to the first membership", func(t *testing.T) {
		f := setupMachine(t)
		require.NoError(t, f.store.Set(&token.Pair{AccessToken: "atk-1", RefreshToken: "rtk-1"}))
		require.NoError(t, f.store.SetTenant("tenant-gone"))
		f.api.meFn = func() (*authapi.Profile, error) { return aliceProfile(), nil }

		_, err := f.machine.Restore(context.Background())
		require.NoError(t, err)
		require.Equal(t, "tenant-1", f.machine.ActiveTenant().ID)
	})
}

func TestMachine_ProfileFailureAfterOTPRollsBack(t *testing.T) {
	f := setupMachine(t)
	f.api.loginFn = func(string, string) (*authapi.LoginResult, error) { return challengeResult(), nil }

	_, err := f.machine.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	f.api.validateFn = func(string, string) (*token.Pair, error) {
		return &token.Pair{AccessToken: "atk-1", RefreshToken: "rtk-1", TokenType: "bearer"}, nil
	}
	f.api.meFn = func() (*authapi.Profile, error) { return nil, errors.New("backend down") }

	state, err := f.machine.VerifyOTP(context.Background(), rightOTPCode)
	require.Error(t, err)
	require.Equal(t, session.StateAnonymous, state)
	require.Equal(t, session.StateAnonymous, f.machine.State())
	require.Nil(t, f.store.Get(), "credentials must not outlive the failed entry")
	require.False(t, f.machine.HasPendingChallenge(), "the ticket was consumed")
	require.Equal(t, 0, f.channel.opens())
}

func TestMachine_ProfileFailureRollsBackLogin(t *testing.T) {
	f := setupMachine(t)
	f.api.loginFn = func(string, string) (*authapi.LoginResult, error) { return grantResult(), nil }
	f.api.meFn = func() (*authapi.Profile, error) { return nil, errors.New("backend down") }

	_, err := f.machine.Login(context.Background(), testUsername, testPassword)
	require.Error(t, err)
	require.Equal(t, session.StateAnonymous, f.machine.State())
	require.Nil(t, f.store.Get())
	require.Equal(t, 0, f.channel.opens())
}

func TestMachine_SwitchTenant(t *testing.T) {
	t.Run("switches between memberships locally", func(t *testing.T) {
		f := setupMachine(t)
		f.login(t)

		require.NoError(t, f.machine.SwitchTenant("tenant-2"))
		require.Equal(t, "tenant-2", f.machine.ActiveTenant().ID)
		require.Equal(t, "tenant-2", f.store.TenantID())
	})

	t.Run("unknown tenant is rejected", func(t *testing.T) {
		f := setupMachine(t)
		f.login(t)

		err := f.machine.SwitchTenant("tenant-9")
		require.ErrorIs(t, err, interrors.ErrTenantNotFound)
		require.Equal(t, "tenant-1", f.machine.ActiveTenant().ID)
	})

	t.Run("requires the authenticated state", func(t *testing.T) {
		f := setupMachine(t)

		err := f.machine.SwitchTenant("tenant-1")
		require.ErrorIs(t, err, interrors.ErrNotAuthenticated)
	})
}

func TestMachine_CredentialsRevoked(t *testing.T) {
	f := setupMachine(t)
	f.login(t)

	// The coordinator tells the sink first, then clears the store.
	f.machine.CredentialsRevoked(errors.New("invalid_grant"))
	f.store.Clear()

	require.Equal(t, session.StateAnonymous, f.machine.State())
	require.Nil(t, f.machine.User())
	require.Equal(t, 1, f.channel.closes())

	// A second notification is a no-op.
	f.machine.CredentialsRevoked(errors.New("invalid_grant"))
	require.Equal(t, 1, f.channel.closes())
}

func TestMachine_SubscribePublishesTransitions(t *testing.T) {
	f := setupMachine(t)
	events := f.machine.Subscribe()

	f.login(t)

	ev := <-events
	require.Equal(t, session.StateAuthenticated, ev.State)
	require.Equal(t, session.CauseLogin, ev.Cause)
	require.Equal(t, testUsername, ev.User.Username)

	require.NoError(t, f.machine.Logout(context.Background()))
	ev = <-events
	require.Equal(t, session.StateAnonymous, ev.State)
	require.Equal(t, session.CauseLogout, ev.Cause)
	require.Nil(t, ev.User)
}

func TestMachine_TenantSwitchEvent(t *testing.T) {
	f := setupMachine(t)
	f.login(t)
	events := f.machine.Subscribe()

	require.NoError(t, f.machine.SwitchTenant("tenant-2"))

	ev := <-events
	require.Equal(t, session.StateAuthenticated, ev.State)
	require.Equal(t, session.CauseTenantSwitch, ev.Cause)
}

func TestNewMachine_Validation(t *testing.T) {
	_, err := session.NewMachine(nil, &fakeAPI{})
	require.Error(t, err)

	_, err = session.NewMachine(token.NewStore(nil), nil)
	require.Error(t, err)
}
