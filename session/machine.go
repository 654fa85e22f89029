// Package session owns the client's authentication lifecycle: the one
// Session per process, its state transitions, and the side effects of
// entering and leaving the authenticated state. All credential mutation
// flows through here or the refresh coordinator, nowhere else.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/0Ankit0/identitykit/authapi"
	interrors "github.com/0Ankit0/identitykit/internal/errors"
	"github.com/0Ankit0/identitykit/internal/utils"
	"github.com/0Ankit0/identitykit/tenants"
	"github.com/0Ankit0/identitykit/token"
	"github.com/0Ankit0/identitykit/users"
)

// API is the slice of the backend client the state machine drives.
type API interface {
	Login(ctx context.Context, username, password string) (*authapi.LoginResult, error)
	Signup(ctx context.Context, req authapi.SignupRequest) (*authapi.LoginResult, error)
	ValidateOTP(ctx context.Context, otpCode, tempToken string) (*token.Pair, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*authapi.Profile, error)
}

// Channel is the notification channel lifecycle as the machine sees it.
type Channel interface {
	Open(ctx context.Context)
	Close()
}

// nopChannel lets the machine run without realtime notifications wired.
type nopChannel struct{}

func (nopChannel) Open(context.Context) {}
func (nopChannel) Close()               {}

// Machine is the session state machine. Exactly one exists per client
// process; UI shells observe it through Subscribe rather than callbacks.
type Machine struct {
	store   *token.Store
	api     API
	channel Channel
	log     zerolog.Logger
	nowTime func() time.Time

	mu          sync.Mutex
	state       State
	user        *users.User
	tenant      *tenants.Tenant
	memberships []tenants.Tenant
	challenge   *authapi.Challenge

	subsMu sync.Mutex
	subs   []chan Event
}

// MachineOption modifies a Machine at construction time.
type MachineOption func(*Machine)

// WithChannel wires the notification channel opened on entering the
// authenticated state.
func WithChannel(ch Channel) MachineOption {
	return func(m *Machine) { m.channel = ch }
}

// WithLogger sets the machine's logger.
func WithLogger(log zerolog.Logger) MachineOption {
	return func(m *Machine) { m.log = log }
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) MachineOption {
	return func(m *Machine) { m.nowTime = nowFunc }
}

// NewMachine creates the session state machine.
func NewMachine(store *token.Store, api API, options ...MachineOption) (*Machine, error) {
	if store == nil {
		return nil, errors.New("[NewMachine] store is required")
	}
	if api == nil {
		return nil, errors.New("[NewMachine] api is required")
	}
	m := &Machine{
		store:   store,
		api:     api,
		channel: nopChannel{},
		log:     zerolog.Nop(),
		nowTime: time.Now,
		state:   StateAnonymous,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// State returns the current session state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// User returns the authenticated user, or nil.
func (m *Machine) User() *users.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// ActiveTenant returns the active tenant, or nil when none is active.
func (m *Machine) ActiveTenant() *tenants.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenant
}

// Tenants returns the tenants visible to the authenticated user.
func (m *Machine) Tenants() []tenants.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tenants.Tenant, len(m.memberships))
	copy(out, m.memberships)
	return out
}

// HasPendingChallenge reports whether an OTP challenge is awaiting a code.
func (m *Machine) HasPendingChallenge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenge != nil
}

// Login submits credentials from the anonymous state. The session either
// becomes authenticated or moves to the pending-second-factor state when
// the account has TOTP enabled.
func (m *Machine) Login(ctx context.Context, username, password string) (State, error) {
	if err := m.requireState(StateAnonymous); err != nil {
		return m.State(), errors.Wrap(err, "[Machine.Login]")
	}

	result, err := m.api.Login(ctx, username, password)
	if err != nil {
		return m.State(), errors.Wrap(err, "[Machine.Login]")
	}
	return m.applyGrant(ctx, result, "[Machine.Login]")
}

// Signup registers a new account. Same outcome shape as Login.
func (m *Machine) Signup(ctx context.Context, req authapi.SignupRequest) (State, error) {
	if err := m.requireState(StateAnonymous); err != nil {
		return m.State(), errors.Wrap(err, "[Machine.Signup]")
	}
	if err := users.ValidatePasswordStrength(req.Password); err != nil {
		return m.State(), errors.Wrap(err, "[Machine.Signup]")
	}

	result, err := m.api.Signup(ctx, req)
	if err != nil {
		return m.State(), errors.Wrap(err, "[Machine.Signup]")
	}
	return m.applyGrant(ctx, result, "[Machine.Signup]")
}

// VerifyOTP submits the user's one-time code for the pending challenge. A
// rejected code leaves the ticket usable for another attempt; an expired
// ticket drops the session back to anonymous and a fresh login is needed.
func (m *Machine) VerifyOTP(ctx context.Context, otpCode string) (State, error) {
	m.mu.Lock()
	if m.state != StatePendingSecondFactor || m.challenge == nil {
		m.mu.Unlock()
		return m.State(), errors.Wrap(interrors.ErrNoPendingFactor, "[Machine.VerifyOTP]")
	}
	ticket := *m.challenge
	m.mu.Unlock()

	pair, err := m.api.ValidateOTP(ctx, otpCode, ticket.TempToken)
	if err != nil {
		if errors.Is(err, interrors.ErrChallengeRejected) {
			// Ticket unchanged; the user may retry within its lifetime.
			return StatePendingSecondFactor, err
		}
		if errors.Is(err, interrors.ErrChallengeExpired) {
			m.transition(StateAnonymous, CauseChallengeExpired, func() {
				m.challenge = nil
			})
			return StateAnonymous, err
		}
		return m.State(), errors.Wrap(err, "[Machine.VerifyOTP]")
	}

	if err := m.store.Set(pair); err != nil {
		return m.State(), errors.Wrap(err, "[Machine.VerifyOTP] store credentials")
	}
	state, err := m.enterAuthenticated(ctx, CauseLogin, "[Machine.VerifyOTP]")
	if err != nil {
		// The validation consumed the ticket, so there is nothing left to
		// retry against; drop the half-entered session entirely.
		m.store.Clear()
		m.transition(StateAnonymous, CauseChallengeExpired, func() {
			m.challenge = nil
		})
		return StateAnonymous, err
	}
	return state, nil
}

// Logout ends the session. The server call is best-effort; local state is
// cleared regardless, and the notification channel closes before the
// credential store is emptied.
func (m *Machine) Logout(ctx context.Context) error {
	wasAuthenticated := m.State() == StateAuthenticated

	if wasAuthenticated {
		if err := m.api.Logout(ctx); err != nil {
			m.log.Debug().Err(err).Msg("server logout failed, clearing local state anyway")
		}
	}

	m.channel.Close()
	m.store.Clear()
	m.transition(StateAnonymous, CauseLogout, func() {
		m.user = nil
		m.tenant = nil
		m.memberships = nil
		m.challenge = nil
	})
	return nil
}

// Restore attempts a silent session restore from persisted credentials:
// the stored access credential is proven against /users/me. Any failure
// clears the store and leaves the session anonymous.
func (m *Machine) Restore(ctx context.Context) (State, error) {
	if err := m.requireState(StateAnonymous); err != nil {
		return m.State(), errors.Wrap(err, "[Machine.Restore]")
	}
	if !m.store.Get().Valid() {
		return StateAnonymous, nil
	}

	state, err := m.enterAuthenticated(ctx, CauseRestore, "[Machine.Restore]")
	if err != nil {
		m.store.Clear()
		m.transition(StateAnonymous, CauseRestoreFailed, func() {
			m.user = nil
			m.tenant = nil
			m.memberships = nil
		})
		return StateAnonymous, err
	}
	return state, nil
}

// SwitchTenant changes the active tenant. Purely local: only the outgoing
// header value changes, and the server re-validates membership on every
// request. The choice is mirrored into the keyring.
func (m *Machine) SwitchTenant(tenantID string) error {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return errors.Wrap(interrors.ErrNotAuthenticated, "[Machine.SwitchTenant]")
	}
	t, ok := tenants.Find(m.memberships, tenantID)
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(interrors.ErrTenantNotFound, "[Machine.SwitchTenant] %s", tenantID)
	}
	m.tenant = utils.Ptr(t)
	m.mu.Unlock()

	if err := m.store.SetTenant(tenantID); err != nil {
		return errors.Wrap(err, "[Machine.SwitchTenant]")
	}
	m.emit(Event{State: StateAuthenticated, Cause: CauseTenantSwitch, User: m.User()})
	return nil
}

// CredentialsRevoked implements refresh.Sink: a terminal refresh failure
// forces the session out of the authenticated state no matter which request
// tripped it. The coordinator clears the store once this returns; here only
// the channel and the in-memory session state are torn down.
func (m *Machine) CredentialsRevoked(cause error) {
	if m.State() != StateAuthenticated {
		return
	}
	m.log.Warn().Err(cause).Msg("session revoked")
	m.channel.Close()
	m.transition(StateAnonymous, CauseRevoked, func() {
		m.user = nil
		m.tenant = nil
		m.memberships = nil
		m.challenge = nil
	})
}

// Subscribe returns a channel of state-change events. The channel is
// buffered; a slow consumer loses intermediate events, never the ability
// to read the current state from the machine itself.
func (m *Machine) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// applyGrant folds a login or signup outcome into the machine.
func (m *Machine) applyGrant(ctx context.Context, result *authapi.LoginResult, op string) (State, error) {
	if result.RequiresSecondFactor() {
		m.transition(StatePendingSecondFactor, CauseLogin, func() {
			m.challenge = result.Challenge
		})
		return StatePendingSecondFactor, nil
	}

	if err := m.store.Set(result.Grant); err != nil {
		return m.State(), errors.Wrap(err, op+" store credentials")
	}
	state, err := m.enterAuthenticated(ctx, CauseLogin, op)
	if err != nil {
		// A half-entered session is worse than a failed login.
		m.store.Clear()
		return m.State(), err
	}
	return state, nil
}

// enterAuthenticated populates the profile, picks the active tenant, opens
// the notification channel and publishes the transition. Credentials must
// already be in the store.
func (m *Machine) enterAuthenticated(ctx context.Context, cause Cause, op string) (State, error) {
	profile, err := m.api.Me(ctx)
	if err != nil {
		return m.State(), errors.Wrap(err, op+" fetch profile")
	}

	active := m.pickTenant(profile.Tenants)
	if active != nil {
		if err := m.store.SetTenant(active.ID); err != nil {
			return m.State(), errors.Wrap(err, op+" persist tenant")
		}
	}

	m.transition(StateAuthenticated, cause, func() {
		m.user = utils.Ptr(profile.User)
		m.memberships = profile.Tenants
		m.tenant = active
		m.challenge = nil
	})

	m.channel.Open(context.WithoutCancel(ctx))
	return StateAuthenticated, nil
}

// pickTenant keeps the persisted active tenant when the user still belongs
// to it, otherwise falls back to the first visible membership.
func (m *Machine) pickTenant(memberships []tenants.Tenant) *tenants.Tenant {
	if len(memberships) == 0 {
		return nil
	}
	if persisted := m.store.TenantID(); persisted != "" {
		if t, ok := tenants.Find(memberships, persisted); ok {
			return utils.Ptr(t)
		}
	}
	return utils.Ptr(memberships[0])
}

func (m *Machine) requireState(want State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != want {
		if want == StateAnonymous {
			return interrors.ErrNotAnonymous
		}
		return interrors.ErrNotAuthenticated
	}
	return nil
}

// transition applies a state change and the given mutation atomically, then
// publishes the event to subscribers.
func (m *Machine) transition(next State, cause Cause, mutate func()) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	if mutate != nil {
		mutate()
	}
	user := m.user
	m.mu.Unlock()

	if prev != next {
		m.log.Info().Stringer("from", prev).Stringer("to", next).Stringer("cause", cause).Msg("session transition")
	}
	m.emit(Event{State: next, Cause: cause, User: user})
}

func (m *Machine) emit(ev Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
