// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/events"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// Defaults for Config fields left zero.
const (
	DefaultExpiryCheckInterval = 60 * time.Second
	DefaultRefreshHorizon      = 5 * time.Minute
)

// Config wires a Manager. Users, Tokens, Hasher, Issuer, Limiter and
// Logger are required; everything else has a default.
type Config struct {
	Users   auth.UserRepository
	Tokens  auth.OneTimeTokenRepository
	Hasher  auth.PasswordHasher
	Issuer  *auth.TokenIssuer
	Limiter *auth.RateLimiter
	Logger  *slog.Logger

	Events   events.Publisher
	Audit    audit.Sink
	Store    auth.SessionStore // nil disables persistence
	Delivery Delivery
	Metrics  Metrics
	Clock    auth.Clock
	Agent    string

	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration
	ExpiryCheckInterval  time.Duration
	RefreshHorizon       time.Duration
}

// Manager is the session orchestrator. It holds at most one active session;
// a second login replaces the first. All methods are safe for concurrent use.
type Manager struct {
	users    auth.UserRepository
	tokens   auth.OneTimeTokenRepository
	hasher   auth.PasswordHasher
	issuer   *auth.TokenIssuer
	limiter  *auth.RateLimiter
	log      *slog.Logger
	events   events.Publisher
	audit    audit.Sink
	store    auth.SessionStore
	delivery Delivery
	metrics  Metrics
	clock    auth.Clock
	agent    string

	resetTTL       time.Duration
	verifyTTL      time.Duration
	checkInterval  time.Duration
	refreshHorizon time.Duration

	mu         sync.RWMutex
	current    *Session
	refreshing atomic.Bool
	flight     singleflight.Group

	dummyOnce sync.Once
	dummyHash string

	sched scheduler
}

// NewManager validates cfg and creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	var missing []string
	if cfg.Users == nil {
		missing = append(missing, "users")
	}
	if cfg.Tokens == nil {
		missing = append(missing, "tokens")
	}
	if cfg.Hasher == nil {
		missing = append(missing, "hasher")
	}
	if cfg.Issuer == nil {
		missing = append(missing, "issuer")
	}
	if cfg.Limiter == nil {
		missing = append(missing, "limiter")
	}
	if cfg.Logger == nil {
		missing = append(missing, "logger")
	}
	if len(missing) > 0 {
		return nil, oops.Code("SESSION_INVALID_CONFIG").
			With("missing", missing).
			Errorf("session manager requires %s", strings.Join(missing, ", "))
	}

	m := &Manager{
		users:          cfg.Users,
		tokens:         cfg.Tokens,
		hasher:         cfg.Hasher,
		issuer:         cfg.Issuer,
		limiter:        cfg.Limiter,
		log:            cfg.Logger.With("component", "session"),
		events:         cfg.Events,
		audit:          cfg.Audit,
		store:          cfg.Store,
		delivery:       cfg.Delivery,
		metrics:        cfg.Metrics,
		clock:          cfg.Clock,
		agent:          cfg.Agent,
		resetTTL:       cfg.ResetTokenTTL,
		verifyTTL:      cfg.VerificationTokenTTL,
		checkInterval:  cfg.ExpiryCheckInterval,
		refreshHorizon: cfg.RefreshHorizon,
	}
	if m.events == nil {
		m.events = events.PublisherFunc(func(context.Context, events.Name, events.Payload) {})
	}
	if m.audit == nil {
		m.audit = audit.Nop()
	}
	if m.delivery == nil {
		m.delivery = LogDelivery(m.log)
	}
	if m.metrics == nil {
		m.metrics = nopMetrics{}
	}
	if m.clock == nil {
		m.clock = auth.SystemClock()
	}
	if m.agent == "" {
		m.agent = auth.DefaultAgent
	}
	if m.resetTTL <= 0 {
		m.resetTTL = auth.DefaultResetTokenTTL
	}
	if m.verifyTTL <= 0 {
		m.verifyTTL = auth.DefaultVerificationTokenTTL
	}
	if m.checkInterval <= 0 {
		m.checkInterval = DefaultExpiryCheckInterval
	}
	if m.refreshHorizon <= 0 {
		m.refreshHorizon = DefaultRefreshHorizon
	}
	return m, nil
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	if m.refreshing.Load() {
		return Refreshing
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || !m.issuer.IsValid(m.current.ExpiresAt) {
		return Unauthenticated
	}
	return Authenticated
}

// Current returns a copy of the active session. A session whose access
// token has expired is not reported.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || !m.issuer.IsValid(m.current.ExpiresAt) {
		return Session{}, false
	}
	return *m.current, true
}

// ValidateAccessToken decodes token and checks that it is an unexpired
// access token belonging to the active session's user.
func (m *Manager) ValidateAccessToken(token string) (*auth.TokenClaims, error) {
	claims, ok := m.issuer.Decode(token)
	if !ok || claims.Kind != auth.TokenKindAccess {
		return nil, auth.NewInvalidTokenError("malformed access token")
	}
	if !m.issuer.IsValid(claims.ExpiresAt) {
		return nil, auth.NewInvalidTokenError("access token expired")
	}
	cur, ok := m.Current()
	if !ok || cur.User.ID != claims.UserID {
		return nil, auth.NewUnauthorizedError("token does not belong to the active session")
	}
	return claims, nil
}

// Register creates an account, signs the new user in and sends an email
// verification token.
func (m *Manager) Register(ctx context.Context, in auth.RegistrationInput) (*Result, error) {
	res, err := m.register(ctx, in)
	m.metrics.ObserveOperation(OpRegister, err)
	if err != nil {
		m.fail(ctx, events.RegisterFailed, events.Payload{Email: auth.NormalizeEmail(in.Email)}, err)
		return nil, err
	}
	return res, nil
}

func (m *Manager) register(ctx context.Context, in auth.RegistrationInput) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	role, err := auth.ParseRole(in.Role)
	if err != nil {
		return nil, err
	}

	email := auth.NormalizeEmail(in.Email)
	_, err = m.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, auth.NewConflictError(email)
	case !errors.Is(err, auth.ErrNotFound):
		return nil, oops.Code("SESSION_REGISTER_FAILED").With("operation", "find by email").Wrap(err)
	}

	profile := in.Profile
	if profile.Phone != "" {
		if phone, phoneErr := auth.NormalizePhone(profile.Phone, auth.DefaultPhoneRegion); phoneErr == nil {
			profile.Phone = phone
		}
	}

	hash, err := m.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("SESSION_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}
	user, err := auth.NewUser(email, hash, role, profile, m.clock.Now())
	if err != nil {
		return nil, oops.Code("SESSION_REGISTER_FAILED").With("operation", "new user").Wrap(err)
	}
	if err := m.users.Create(ctx, user); err != nil {
		if auth.IsKind(err, auth.KindConflict) {
			return nil, err
		}
		return nil, oops.Code("SESSION_REGISTER_FAILED").With("operation", "create user").Wrap(err)
	}

	res, err := m.signIn(ctx, user, false)
	if err != nil {
		return nil, err
	}

	payload := events.Payload{UserID: user.ID.String(), Email: user.Email}
	m.events.Publish(ctx, events.UserRegistered, payload)
	m.record(ctx, user.ID.String(), audit.ActionSignup, nil)

	if err := m.issueVerification(ctx, user); err != nil {
		errutil.LogWarn(m.log, "verification token not issued", err)
	}
	return res, nil
}

// Login authenticates by email and password. Every attempt is recorded
// before the lockout check, including attempts for unknown emails.
func (m *Manager) Login(ctx context.Context, in LoginInput) (*Result, error) {
	res, err := m.login(ctx, in)
	m.metrics.ObserveOperation(OpLogin, err)
	if err != nil {
		m.fail(ctx, events.LoginFailed, events.Payload{Email: auth.NormalizeEmail(in.Email)}, err)
		return nil, err
	}
	return res, nil
}

func (m *Manager) login(ctx context.Context, in LoginInput) (*Result, error) {
	email := auth.NormalizeEmail(in.Email)

	if locked, remaining := m.limiter.Attempt(email); locked {
		m.metrics.ObserveLockout()
		return nil, auth.NewRateLimitedError(remaining.Round(time.Second).String())
	}

	user, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			return nil, oops.Code("SESSION_LOGIN_FAILED").With("operation", "find by email").Wrap(err)
		}
		// Equalize timing with the known-user path.
		_, _ = m.hasher.Verify(in.Password, m.dummy()) //nolint:errcheck // result is irrelevant
		return nil, auth.NewInvalidCredentialsError()
	}

	ok, err := m.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		return nil, oops.Code("SESSION_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if !ok {
		return nil, auth.NewInvalidCredentialsError()
	}

	m.limiter.Reset(email)
	res, err := m.signIn(ctx, user, in.Remember)
	if err != nil {
		return nil, err
	}

	m.events.Publish(ctx, events.UserLoggedIn, events.Payload{UserID: user.ID.String(), Email: user.Email})
	meta := map[string]string{audit.MetaRemember: "false"}
	if in.Remember {
		meta[audit.MetaRemember] = "true"
	}
	m.record(ctx, user.ID.String(), audit.ActionLogin, meta)
	return res, nil
}

// Logout clears the active session. It is a no-op without one.
func (m *Manager) Logout(ctx context.Context) {
	if m.endSession(ctx, nil) {
		m.metrics.ObserveOperation(OpLogout, nil)
	}
}

// endSession clears the session and reports whether it did. A non-nil
// expect limits the clear to that exact session.
func (m *Manager) endSession(ctx context.Context, expect *Session) bool {
	m.mu.Lock()
	prev := m.current
	if prev == nil || (expect != nil && prev != expect) {
		m.mu.Unlock()
		return false
	}
	m.current = nil
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Clear(ctx, m.agent); err != nil {
			errutil.LogWarn(m.log, "persisted session not cleared", err)
		}
	}
	m.events.Publish(ctx, events.UserLoggedOut, events.Payload{UserID: prev.User.ID, Email: prev.User.Email})
	m.record(ctx, prev.User.ID, audit.ActionLogout, nil)
	return true
}

// signIn issues tokens and installs the session for user.
func (m *Manager) signIn(ctx context.Context, user *auth.User, extended bool) (*Result, error) {
	pair, err := m.issuer.Issue(user.ID.String(), user.Email, user.Role, extended)
	if err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").With("user_id", user.ID.String()).Wrap(err)
	}
	pub := user.Public()
	m.install(ctx, &Session{
		User:         pub,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExpiresAt,
	})
	return &Result{User: pub, Tokens: pair}, nil
}

// install replaces the active session wholesale and persists it.
func (m *Manager) install(ctx context.Context, s *Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	m.persist(ctx, s)
}

func (m *Manager) persist(ctx context.Context, s *Session) {
	if m.store == nil {
		return
	}
	userID, err := parseUserID(s.User.ID)
	if err != nil {
		errutil.LogWarn(m.log, "session not persisted", err)
		return
	}
	ps, err := auth.NewPersistedSession(m.agent, userID, s.AccessToken, s.RefreshToken, s.ExpiresAt, m.clock.Now())
	if err != nil {
		errutil.LogWarn(m.log, "session not persisted", err)
		return
	}
	if err := m.store.Save(ctx, ps); err != nil {
		errutil.LogWarn(m.log, "session not persisted", err)
	}
}

// swap replaces the active session only if it is still prev.
func (m *Manager) swap(prev, next *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != prev {
		return false
	}
	m.current = next
	return true
}

func (m *Manager) snapshot() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) dummy() string {
	m.dummyOnce.Do(func() {
		h, err := m.hasher.Hash("gatehouse-timing-equalizer")
		if err != nil {
			errutil.LogWarn(m.log, "dummy hash unavailable", err)
			return
		}
		m.dummyHash = h
	})
	return m.dummyHash
}

// fail publishes the failure event for an operation.
func (m *Manager) fail(ctx context.Context, name events.Name, payload events.Payload, err error) {
	payload.Error = err.Error()
	m.events.Publish(ctx, name, payload)
	if auth.ErrorKindOf(err) == "" {
		errutil.LogError(m.log, string(name), err)
	}
}

// record reports a successful operation to the audit sink. Sink failures
// never fail the operation.
func (m *Manager) record(ctx context.Context, userID string, action audit.Action, meta map[string]string) {
	if err := m.audit.LogAction(ctx, userID, action, meta); err != nil {
		m.log.WarnContext(ctx, "audit record dropped",
			"action", string(action),
			"user_id", userID,
			"error", err,
		)
	}
}
