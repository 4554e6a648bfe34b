package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/programshouse/medicaldash/pkg/connection"
	"github.com/programshouse/medicaldash/pkg/constants"
	"github.com/programshouse/medicaldash/pkg/envelope"
	"github.com/programshouse/medicaldash/pkg/models"
)

// Profile fetches the signed-in administrator and refreshes the stored principal.
func (s *Store) Profile(ctx context.Context) (models.Principal, error) {
	return s.profileRequest(ctx, &connection.Request{Method: http.MethodGet, Path: constants.ProfilePath})
}

// UpdateProfile sends profile changes. The body always goes out as multipart
// since the profile endpoint takes an avatar upload.
func (s *Store) UpdateProfile(ctx context.Context, input models.Record) (models.Principal, error) {
	return s.profileRequest(ctx, &connection.Request{
		Method:    http.MethodPut,
		Path:      constants.ProfilePath,
		Body:      input,
		Multipart: true,
	})
}

func (s *Store) profileRequest(ctx context.Context, r *connection.Request) (models.Principal, error) {
	if s.Token() == "" {
		return nil, constants.ErrNoSession
	}
	s.begin()
	defer s.end()

	res, err := s.conn.Do(ctx, r)
	if err != nil {
		return nil, s.fail(err)
	}
	principal, ok := envelope.Record(res.Body)
	if !ok {
		return nil, s.fail(fmt.Errorf("%w: profile is not an object", constants.ErrInvalidResponse))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	token, expiresAt := s.state.Token, s.state.ExpiresAt
	s.mu.Unlock()
	if token == "" {
		// Signed out while the request was in flight.
		return nil, constants.ErrNoSession
	}
	if err := s.persist(ctx, token, principal, expiresAt); err != nil {
		return nil, s.fail(fmt.Errorf("persist session: %w", err))
	}

	s.mu.Lock()
	if s.state.Token == token {
		s.state.Principal = principal
	}
	s.mu.Unlock()
	return principal.Clone(), nil
}
