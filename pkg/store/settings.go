package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/programshouse/medicaldash/pkg/connection"
	"github.com/programshouse/medicaldash/pkg/constants"
	"github.com/programshouse/medicaldash/pkg/envelope"
	"github.com/programshouse/medicaldash/pkg/models"
)

// SettingsStore holds the site settings, a resource with zero or one record.
// State.Items is always empty; the record lives in State.Current.
type SettingsStore struct {
	base
	spec Spec
}

func NewSettings(conn Doer, logger zerolog.Logger) *SettingsStore {
	return NewSettingsWithSpec(conn, SettingsSpec, logger)
}

func NewSettingsWithSpec(conn Doer, spec Spec, logger zerolog.Logger) *SettingsStore {
	s := &SettingsStore{spec: spec.withDefaults()}
	s.init(s.spec.Name, conn, logger)
	return s
}

// Fetch loads the settings record. The API may answer with the record itself
// or with a list, in which case its first entry is used. A nil record with a
// nil error means no settings exist yet.
func (s *SettingsStore) Fetch(ctx context.Context) (models.Record, error) {
	s.begin()
	defer s.end()

	candidates, err := s.fetch(ctx)
	if err != nil {
		return nil, s.fail("fetch", err)
	}
	var rec models.Record
	if len(candidates) > 0 {
		rec = candidates[0]
	}
	if err := s.commit(ctx, func() { s.current = rec }); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// FetchByID loads the settings and picks the record with id. It fails with
// constants.ErrNotFoundLocal when no record in the answer matches.
func (s *SettingsStore) FetchByID(ctx context.Context, id any) (models.Record, error) {
	if !models.ValidID(id) {
		return nil, s.fail("fetch", constants.ErrMissingID)
	}
	s.begin()
	defer s.end()

	candidates, err := s.fetch(ctx)
	if err != nil {
		return nil, s.fail("fetch", err)
	}
	i := indexOf(candidates, id)
	if i < 0 {
		return nil, s.fail("fetch", fmt.Errorf("settings %s: %w", models.IDString(id), constants.ErrNotFoundLocal))
	}
	rec := candidates[i]
	if err := s.commit(ctx, func() { s.current = rec }); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Save creates the settings when no record with an id is held and updates
// them otherwise.
func (s *SettingsStore) Save(ctx context.Context, input models.Record) (models.Record, error) {
	if cur := s.Current(); cur != nil && models.ValidID(cur.ID()) {
		return s.Update(ctx, cur.ID(), input)
	}
	return s.Create(ctx, input)
}

func (s *SettingsStore) Create(ctx context.Context, input models.Record) (models.Record, error) {
	s.begin()
	defer s.end()

	res, err := s.conn.Do(ctx, &connection.Request{
		Method: http.MethodPost,
		Path:   s.spec.Path,
		Body:   rename(input, s.spec.FieldNames),
	})
	if err != nil {
		return nil, s.fail("create", err)
	}
	rec, ok := envelope.Record(res.Body)
	if !ok {
		return nil, s.fail("create", fmt.Errorf("%w: settings answer is not an object", constants.ErrInvalidResponse))
	}
	if err := s.commit(ctx, func() { s.current = rec }); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Update changes the held settings record. id must match it, otherwise the
// call fails with constants.ErrNotFoundLocal without reaching the API.
// Uploads follow the same framing and re-read rules as Store.Update.
func (s *SettingsStore) Update(ctx context.Context, id any, input models.Record) (models.Record, error) {
	if err := s.checkHeld(id); err != nil {
		return nil, s.fail("update", err)
	}
	s.begin()
	defer s.end()

	body := rename(input, s.spec.FieldNames)
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
		if models.SameID(s.current.ID(), id) {
			s.current = rec
		}
	})
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Delete removes the held settings record. id must match it.
func (s *SettingsStore) Delete(ctx context.Context, id any) error {
	if err := s.checkHeld(id); err != nil {
		return s.fail("delete", err)
	}
	s.begin()
	defer s.end()

	if _, err := s.conn.Do(ctx, &connection.Request{Method: http.MethodDelete, Path: s.itemPath(id)}); err != nil {
		return s.fail("delete", err)
	}
	return s.commit(ctx, func() {
		if models.SameID(s.current.ID(), id) {
			s.current = nil
		}
	})
}

func (s *SettingsStore) fetch(ctx context.Context) ([]models.Record, error) {
	res, err := s.conn.Do(ctx, &connection.Request{Method: http.MethodGet, Path: s.spec.Path})
	if err != nil {
		return nil, err
	}
	if list := envelope.Records(res.Body); len(list) > 0 {
		return list, nil
	}
	// An envelope whose data is null or empty means no settings exist yet.
	if rec, ok := envelope.Record(res.Body); ok && len(rec) > 0 {
		if _, wrapped := rec["data"]; !wrapped {
			return []models.Record{rec}, nil
		}
	}
	return nil, nil
}

func (s *SettingsStore) checkHeld(id any) error {
	if !models.ValidID(id) {
		return constants.ErrMissingID
	}
	cur := s.Current()
	if cur == nil || !models.SameID(cur.ID(), id) {
		return fmt.Errorf("settings %s: %w", models.IDString(id), constants.ErrNotFoundLocal)
	}
	return nil
}

func (s *SettingsStore) itemPath(id any) string {
	return s.spec.Path + "/" + url.PathEscape(models.IDString(id))
}

func rename(input models.Record, names map[string]string) models.Record {
	out := make(models.Record, len(input))
	for k, v := range input {
		if name, ok := names[k]; ok && name != "" {
			k = name
		}
		out[k] = v
	}
	return out
}
