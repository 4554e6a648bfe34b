// Package session owns the administrator's access token.
//
// A [Store] logs in against the API, persists the token, principal and expiry
// as one unit in a [storage.Storage], rehydrates them once at start-up and
// expires them on a fixed schedule. It also serves as the
// [connection.TokenSource] for every other request and reacts to 401 answers
// by dropping the session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/programshouse/medicaldash/pkg/connection"
	"github.com/programshouse/medicaldash/pkg/constants"
	"github.com/programshouse/medicaldash/pkg/envelope"
	"github.com/programshouse/medicaldash/pkg/models"
	"github.com/programshouse/medicaldash/pkg/storage"
)

// ExpiredMessage is shown to the user when the liveness check ends a session.
const ExpiredMessage = "Session expired, please login again!"

// Doer sends API requests.
type Doer interface {
	Do(ctx context.Context, r *connection.Request) (*connection.Response, error)
}

// Session is a snapshot of the store state.
type Session struct {
	Token       string
	Principal   models.Principal
	ExpiresAt   time.Time
	Initialized bool
	Loading     bool
	Error       string
}

// Active reports whether a token is held.
func (s Session) Active() bool {
	return s.Token != ""
}

// AuthError is returned when login is rejected or its answer is unusable.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Options configures a Store. Conn and Storage are required.
type Options struct {
	Conn    Doer
	Storage storage.Storage
	Logger  zerolog.Logger
	Clock   func() time.Time
	TTL     time.Duration

	// OnExpired shows a transient notification to the user.
	OnExpired func(message string)
	// OnSignedOut navigates to the sign-in screen after a forced logout.
	OnSignedOut func()
}

type Store struct {
	conn        Doer
	storage     storage.Storage
	logger      zerolog.Logger
	clock       func() time.Time
	ttl         time.Duration
	onExpired   func(string)
	onSignedOut func()

	mu       sync.RWMutex
	state    Session
	inflight int
	initOnce sync.Once
}

func New(opts Options) *Store {
	s := &Store{
		conn:        opts.Conn,
		storage:     opts.Storage,
		logger:      opts.Logger,
		clock:       opts.Clock,
		ttl:         opts.TTL,
		onExpired:   opts.OnExpired,
		onSignedOut: opts.OnSignedOut,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.ttl <= 0 {
		s.ttl = constants.DefaultSessionTTL
	}
	if s.storage == nil {
		s.storage = storage.NewMemory()
	}
	return s
}

// Token implements connection.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

// State returns a copy of the current session.
func (s *Store) State() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Principal = st.Principal.Clone()
	st.Loading = s.inflight > 0
	return st
}

// Principal returns the signed-in administrator, or nil.
func (s *Store) Principal() models.Principal {
	return s.State().Principal
}

func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Initialized
}

// Login exchanges credentials for a token. State is untouched on failure
// apart from the error message.
func (s *Store) Login(ctx context.Context, email, password string) (models.Principal, error) {
	s.begin()
	defer s.end()

	res, err := s.conn.Do(ctx, &connection.Request{
		Method:    http.MethodPost,
		Path:      constants.LoginPath,
		Body:      models.Record{"email": email, "password": password},
		Anonymous: true,
	})
	if err != nil {
		return nil, s.fail(loginError(err))
	}

	token, principal, err := parseLogin(res.Body)
	if err != nil {
		return nil, s.fail(err)
	}

	now := s.clock()
	expiresAt := s.expiry(token, now)
	if err := s.persist(ctx, token, principal, expiresAt); err != nil {
		return nil, s.fail(fmt.Errorf("persist session: %w", err))
	}

	s.mu.Lock()
	s.state.Token = token
	s.state.Principal = principal
	s.state.ExpiresAt = expiresAt
	s.state.Error = ""
	s.mu.Unlock()

	s.logger.Info().Str("expires_at", expiresAt.Format(time.RFC3339)).Msg("signed in")
	return principal.Clone(), nil
}

// CheckSession ends the session once its expiry has passed and reports
// whether a session is still active. It performs no network I/O.
func (s *Store) CheckSession(ctx context.Context) bool {
	s.mu.RLock()
	token, expiresAt := s.state.Token, s.state.ExpiresAt
	s.mu.RUnlock()

	now := s.clock()
	if !expiresAt.IsZero() && now.After(expiresAt) {
		s.clear()
		if err := s.storage.Delete(ctx, constants.SessionKeys...); err != nil {
			s.logger.Warn().Err(err).Msg("clear persisted session")
		}
		s.logger.Info().Time("expired_at", expiresAt).Msg("session expired")
		if s.onExpired != nil {
			s.onExpired(ExpiredMessage)
		}
		return false
	}
	return token != ""
}

// LoadFromStorage hydrates the session from durable storage. Only the first
// call does any work; every call leaves the store initialized. A corrupt
// persisted session is cleared instead of failing start-up.
func (s *Store) LoadFromStorage(ctx context.Context) error {
	var loadErr error
	s.initOnce.Do(func() {
		defer func() {
			s.mu.Lock()
			s.state.Initialized = true
			s.mu.Unlock()
		}()

		values, err := s.storage.Load(ctx, constants.SessionKeys...)
		if err != nil {
			loadErr = fmt.Errorf("load session: %w", err)
			return
		}
		token := values[constants.AccessTokenKey]
		rawPrincipal := values[constants.PrincipalKey]
		if token == "" || rawPrincipal == "" {
			return
		}

		principal, perr := decodePrincipal(rawPrincipal)
		expiresAt, eerr := decodeExpiry(values[constants.ExpiryTimeKey])
		if perr != nil || eerr != nil {
			s.logger.Warn().AnErr("principal", perr).AnErr("expiry", eerr).Msg("discarding corrupt persisted session")
			if err := s.storage.Delete(ctx, constants.SessionKeys...); err != nil {
				s.logger.Warn().Err(err).Msg("clear persisted session")
			}
			return
		}

		s.mu.Lock()
		s.state.Token = token
		s.state.Principal = principal
		s.state.ExpiresAt = expiresAt
		s.mu.Unlock()
	})
	return loadErr
}

// Logout clears the session in memory and in storage.
func (s *Store) Logout(ctx context.Context) error {
	s.clear()
	if err := s.storage.Delete(ctx, constants.SessionKeys...); err != nil {
		return fmt.Errorf("clear persisted session: %w", err)
	}
	s.logger.Info().Msg("signed out")
	return nil
}

// HandleUnauthorized is the connection's 401 hook: it drops the session and
// sends the user to sign-in.
func (s *Store) HandleUnauthorized(ctx context.Context) {
	if err := s.Logout(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn().Err(err).Msg("forced logout")
	}
	if s.onSignedOut != nil {
		s.onSignedOut()
	}
}

// Watch runs CheckSession now and then every interval until ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.DefaultSessionCheckInterval
	}
	s.CheckSession(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckSession(ctx)
		}
	}
}

func (s *Store) begin() {
	s.mu.Lock()
	s.inflight++
	s.state.Error = ""
	s.mu.Unlock()
}

func (s *Store) end() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
}

func (s *Store) fail(err error) error {
	s.mu.Lock()
	s.state.Error = err.Error()
	s.mu.Unlock()
	return err
}

func (s *Store) clear() {
	s.mu.Lock()
	s.state.Token = ""
	s.state.Principal = nil
	s.state.ExpiresAt = time.Time{}
	s.mu.Unlock()
}

// expiry is now+TTL, shortened to the token's own exp claim when it carries one.
func (s *Store) expiry(token string, now time.Time) time.Time {
	expiresAt := now.Add(s.ttl)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return expiresAt
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return expiresAt
	}
	if exp.Time.Before(expiresAt) {
		return exp.Time
	}
	return expiresAt
}

func (s *Store) persist(ctx context.Context, token string, principal models.Principal, expiresAt time.Time) error {
	raw, err := json.Marshal(principal)
	if err != nil {
		return err
	}
	expiry := ""
	if !expiresAt.IsZero() {
		expiry = strconv.FormatInt(expiresAt.UnixMilli(), 10)
	}
	return s.storage.Save(ctx, map[string]string{
		constants.AccessTokenKey: token,
		constants.PrincipalKey:   string(raw),
		constants.ExpiryTimeKey:  expiry,
	})
}

func loginError(err error) error {
	var apiErr *connection.APIError
	if errors.As(err, &apiErr) {
		return &AuthError{Message: apiErr.Message, Err: err}
	}
	return &AuthError{Message: "Login failed", Err: err}
}

func parseLogin(body any) (string, models.Principal, error) {
	rec, ok := models.AsRecord(body)
	if !ok {
		return "", nil, &AuthError{Message: "Login failed", Err: constants.ErrInvalidResponse}
	}
	if _, ok := rec.String("token"); !ok {
		if inner, ok := envelope.Record(rec); ok {
			rec = inner
		}
	}
	token, ok := rec.String("token")
	if !ok {
		token, ok = rec.String("access_token")
	}
	if !ok {
		return "", nil, &AuthError{Message: "Login response carried no token", Err: constants.ErrInvalidResponse}
	}
	for _, field := range []string{"user", "principal", "admin"} {
		if p, ok := models.AsRecord(rec[field]); ok {
			return token, p, nil
		}
	}
	return token, models.Principal{}, nil
}

func decodePrincipal(raw string) (models.Principal, error) {
	v, err := models.DecodeJSON([]byte(raw))
	if err != nil {
		return nil, err
	}
	p, ok := models.AsRecord(v)
	if !ok {
		return nil, fmt.Errorf("principal is not an object")
	}
	return p, nil
}

func decodeExpiry(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
