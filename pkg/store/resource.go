package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/programshouse/medicaldash/pkg/connection"
	"github.com/programshouse/medicaldash/pkg/constants"
	"github.com/programshouse/medicaldash/pkg/envelope"
	"github.com/programshouse/medicaldash/pkg/models"
)

// Spec describes how one resource is addressed on the API.
type Spec struct {
	// Name is used in logs.
	Name string
	// Path is the collection path, e.g. "/blogs".
	Path string
	// FieldNames renames outgoing fields, local name to API name.
	FieldNames map[string]string
	// OverrideMethod is the verb sent in the _method field when a multipart
	// update is tunnelled through POST, and the verb of the fallback request.
	// Defaults to PATCH.
	OverrideMethod string
	// UpdateMethod is the verb of a JSON update. Defaults to PATCH.
	UpdateMethod string
}

func (s Spec) withDefaults() Spec {
	if s.OverrideMethod == "" {
		s.OverrideMethod = http.MethodPatch
	}
	if s.UpdateMethod == "" {
		s.UpdateMethod = http.MethodPatch
	}
	s.OverrideMethod = strings.ToUpper(s.OverrideMethod)
	s.UpdateMethod = strings.ToUpper(s.UpdateMethod)
	s.Path = "/" + strings.Trim(s.Path, "/")
	if s.Name == "" {
		s.Name = strings.TrimPrefix(s.Path, "/")
	}
	return s
}

// Store is the client-side copy of one REST collection.
type Store struct {
	base
	spec Spec
}

func New(conn Doer, spec Spec, logger zerolog.Logger) *Store {
	s := &Store{spec: spec.withDefaults()}
	s.init(s.spec.Name, conn, logger)
	return s
}

func (s *Store) Spec() Spec {
	return s.spec
}

// FetchAll replaces the collection with the server's list.
func (s *Store) FetchAll(ctx context.Context) ([]models.Record, error) {
	s.begin()
	defer s.end()

	res, err := s.conn.Do(ctx, &connection.Request{Method: http.MethodGet, Path: s.spec.Path})
	if err != nil {
		return nil, s.fail("fetch_all", err)
	}
	items := dedupe(envelope.Records(res.Body))
	if err := s.commit(ctx, func() { s.items = items }); err != nil {
		return nil, err
	}
	return cloneAll(items), nil
}

// FetchByID loads one record into Current. The collection is untouched.
func (s *Store) FetchByID(ctx context.Context, id any) (models.Record, error) {
	if !models.ValidID(id) {
		return nil, s.fail("fetch", constants.ErrMissingID)
	}
	s.begin()
	defer s.end()

	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, s.fail("fetch", err)
	}
	if err := s.commit(ctx, func() { s.current = rec }); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Create posts input and prepends the server's record to the collection.
// Input holding a *models.Blob is sent as multipart.
func (s *Store) Create(ctx context.Context, input models.Record) (models.Record, error) {
	s.begin()
	defer s.end()

	res, err := s.conn.Do(ctx, &connection.Request{
		Method: http.MethodPost,
		Path:   s.spec.Path,
		Body:   s.outgoing(input),
	})
	if err != nil {
		return nil, s.fail("create", err)
	}
	rec, ok := envelope.Record(res.Body)
	if !ok || !models.ValidID(rec.ID()) {
		return nil, s.fail("create", fmt.Errorf("%w: created %s has no id", constants.ErrInvalidResponse, s.spec.Name))
	}

	err = s.commit(ctx, func() {
		s.items = append([]models.Record{rec}, without(s.items, rec.ID())...)
		s.current = rec
	})
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Update sends input for the record with id and replaces the local copy
// with the server's answer.
//
// Multipart updates go out as POST with the override verb in a _method
// field. If the API rejects that, the same fields are sent once more with
// the override verb itself. When an uploaded file is not echoed back, or the
// answer carries no record, the record is read again.
func (s *Store) Update(ctx context.Context, id any, input models.Record) (models.Record, error) {
	if !models.ValidID(id) {
		return nil, s.fail("update", constants.ErrMissingID)
	}
	s.begin()
	defer s.end()

	body := s.outgoing(input)
	path := s.itemPath(id)
	res, err := s.sendUpdate(ctx, s.spec, path, body)
	if err != nil {
		return nil, s.fail("update", err)
	}
	rec, err := s.updated(ctx, path, id, body, res)
	if err != nil {
		return nil, s.fail("update", err)
	}

	err = s.commit(ctx, func() {
		if i := indexOf(s.items, id); i >= 0 {
			items := make([]models.Record, len(s.items))
			copy(items, s.items)
			items[i] = rec
			s.items = items
		}
		if models.SameID(s.current.ID(), id) {
			s.current = rec
		}
	})
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Delete removes the record on the server, then locally. A record missing
// from the local collection is still deleted on the server.
func (s *Store) Delete(ctx context.Context, id any) error {
	if !models.ValidID(id) {
		return s.fail("delete", constants.ErrMissingID)
	}
	s.begin()
	defer s.end()

	if _, err := s.conn.Do(ctx, &connection.Request{Method: http.MethodDelete, Path: s.itemPath(id)}); err != nil {
		return s.fail("delete", err)
	}
	return s.commit(ctx, func() {
		s.items = without(s.items, id)
		if models.SameID(s.current.ID(), id) {
			s.current = nil
		}
	})
}

func (s *Store) get(ctx context.Context, id any) (models.Record, error) {
	return s.read(ctx, s.itemPath(id))
}

func (s *Store) itemPath(id any) string {
	return s.spec.Path + "/" + url.PathEscape(models.IDString(id))
}

// outgoing applies FieldNames to a copy of input.
func (s *Store) outgoing(input models.Record) models.Record {
	return rename(input, s.spec.FieldNames)
}

// dedupe keeps the first record for each id.
func dedupe(items []models.Record) []models.Record {
	seen := make(map[string]struct{}, len(items))
	out := make([]models.Record, 0, len(items))
	for _, rec := range items {
		key := models.IDString(rec.ID())
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, rec)
	}
	return out
}

func cloneAll(items []models.Record) []models.Record {
	out := make([]models.Record, len(items))
	for i, rec := range items {
		out[i] = rec.Clone()
	}
	return out
}
