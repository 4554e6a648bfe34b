package store_test

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/programshouse/medicaldash/internal/fakeapi"
	"github.com/programshouse/medicaldash/pkg/constants"
	"github.com/programshouse/medicaldash/pkg/models"
	"github.com/programshouse/medicaldash/pkg/store"
)

func (s *StoreTestSuite) TestSettingsFetchShapes() {
	ctx := context.Background()
	cases := map[string]any{
		"object":      map[string]any{"data": map[string]any{"id": 1, "site_name": "prof"}},
		"bare object": map[string]any{"id": 1, "site_name": "prof"},
		"list":        map[string]any{"data": []any{map[string]any{"id": 1, "site_name": "prof"}, map[string]any{"id": 2}}},
		"nested list": map[string]any{"data": map[string]any{"data": []any{map[string]any{"id": 1, "site_name": "prof"}}}},
	}
	for name, body := range cases {
		s.Run(name, func() {
			api := fakeapi.NewServer()
			defer api.Close()
			api.AddStubResponse(fakeapi.StubResponse{
				Matcher: fakeapi.RequestMatcher{Method: http.MethodGet, Path: "/settings"},
				Body:    body,
			})
			settings := store.NewSettings(s.newConn(api), zerolog.Nop())

			rec, err := settings.Fetch(ctx)
			s.Require().NoError(err)
			s.Equal("prof", rec["site_name"])
			s.Equal("1", models.IDString(settings.Current().ID()))
			s.Empty(settings.Items())
		})
	}
}

func (s *StoreTestSuite) TestSettingsFetchEmpty() {
	settings := store.NewSettings(s.conn, zerolog.Nop())
	rec, err := settings.Fetch(context.Background())
	s.Require().NoError(err)
	s.Nil(rec)
	s.Nil(settings.Current())
}

func (s *StoreTestSuite) TestSettingsFetchByID() {
	ctx := context.Background()
	s.api.Seed("settings", map[string]any{"id": 1, "site_name": "a"}, map[string]any{"id": 2, "site_name": "b"})
	settings := store.NewSettings(s.conn, zerolog.Nop())

	rec, err := settings.FetchByID(ctx, "2")
	s.Require().NoError(err)
	s.Equal("b", rec["site_name"])

	_, err = settings.FetchByID(ctx, 3)
	s.ErrorIs(err, constants.ErrNotFoundLocal)
	s.NotEmpty(settings.Err())
	s.Equal("b", settings.Current()["site_name"])
}

func (s *StoreTestSuite) TestSettingsSaveCreatesThenUpdates() {
	ctx := context.Background()
	settings := store.NewSettings(s.conn, zerolog.Nop())

	created, err := settings.Save(ctx, models.Record{"site_name": "prof", "email": "prof@clinic.test"})
	s.Require().NoError(err)
	s.Require().True(models.ValidID(created.ID()))
	s.Len(s.api.RequestsTo(http.MethodPost, "/settings"), 1)

	updated, err := settings.Save(ctx, models.Record{"phone": "012345678"})
	s.Require().NoError(err)
	s.Equal("012345678", updated["phone"])
	s.Equal("prof", updated["site_name"])
	s.Len(s.api.RequestsTo(http.MethodPatch, "/settings/"+models.IDString(created.ID())), 1)
	s.Len(s.api.Records("settings"), 1)
}

func (s *StoreTestSuite) TestSettingsUpdateRequiresHeldRecord() {
	ctx := context.Background()
	s.api.Seed("settings", map[string]any{"id": 1})
	settings := store.NewSettings(s.conn, zerolog.Nop())

	_, err := settings.Update(ctx, 1, models.Record{"phone": "1"})
	s.ErrorIs(err, constants.ErrNotFoundLocal)

	_, err = settings.Fetch(ctx)
	s.Require().NoError(err)
	_, err = settings.Update(ctx, 2, models.Record{"phone": "1"})
	s.ErrorIs(err, constants.ErrNotFoundLocal)
	s.ErrorIs(settings.Delete(ctx, 2), constants.ErrNotFoundLocal)
	s.Empty(s.api.RequestsTo(http.MethodPatch, "/settings/2"))
	s.Empty(s.api.RequestsTo(http.MethodDelete, "/settings/2"))

	s.Require().NoError(settings.Delete(ctx, 1))
	s.Nil(settings.Current())
	s.Empty(s.api.Records("settings"))
}

func (s *StoreTestSuite) TestSettingsNullDataMeansNoSettings() {
	ctx := context.Background()
	s.api.AddStubResponse(fakeapi.StubResponse{
		Matcher: fakeapi.RequestMatcher{Method: http.MethodGet, Path: "/settings"},
		Body:    map[string]any{"message": "ok", "data": nil},
		Times:   1,
	})
	settings := store.NewSettings(s.conn, zerolog.Nop())

	rec, err := settings.Fetch(ctx)
	s.Require().NoError(err)
	s.Nil(rec)
	s.Nil(settings.Current())

	created, err := settings.Save(ctx, models.Record{"site_name": "prof"})
	s.Require().NoError(err)
	s.True(models.ValidID(created.ID()))
	s.Len(s.api.RequestsTo(http.MethodPost, "/settings"), 1)
}

func (s *StoreTestSuite) TestSettingsSaveWithoutHeldIDCreates() {
	ctx := context.Background()
	s.api.AddStubResponse(fakeapi.StubResponse{
		Matcher: fakeapi.RequestMatcher{Method: http.MethodGet, Path: "/settings"},
		Body:    map[string]any{"site_name": "draft"},
		Times:   1,
	})
	settings := store.NewSettings(s.conn, zerolog.Nop())

	_, err := settings.Fetch(ctx)
	s.Require().NoError(err)
	s.Equal("draft", settings.Current()["site_name"])

	_, err = settings.Save(ctx, models.Record{"site_name": "prof"})
	s.Require().NoError(err)
	s.Len(s.api.RequestsTo(http.MethodPost, "/settings"), 1)
	s.Empty(settings.Err())
}

func (s *StoreTestSuite) TestSettingsUploadFallsBackOnce() {
	ctx := context.Background()
	s.api.Seed("settings", map[string]any{"id": 1, "site_name": "prof"})
	s.api.AddStubResponse(fakeapi.StubResponse{
		Matcher: fakeapi.RequestMatcher{Method: http.MethodPost, Path: "/settings/1"},
		Status:  http.StatusMethodNotAllowed,
		Body:    map[string]any{"message": "Method not allowed"},
	})
	settings := store.NewSettings(s.conn, zerolog.Nop())
	_, err := settings.Fetch(ctx)
	s.Require().NoError(err)

	rec, err := settings.Update(ctx, 1, models.Record{"logo": image("logo.png")})
	s.Require().NoError(err)
	s.Equal("/storage/settings/logo.png", rec["logo"])

	tunnelled := s.api.RequestsTo(http.MethodPost, "/settings/1")
	s.Require().Len(tunnelled, 1)
	s.Equal(http.MethodPatch, tunnelled[0].Form[constants.MethodOverrideField])
	direct := s.api.RequestsTo(http.MethodPatch, "/settings/1")
	s.Require().Len(direct, 1)
	s.True(direct[0].Multipart())
	s.Contains(direct[0].Files, "logo")
	s.Equal("/storage/settings/logo.png", settings.Current()["logo"])
}

func (s *StoreTestSuite) TestSettingsUploadFallbackFailure() {
	ctx := context.Background()
	s.api.Seed("settings", map[string]any{"id": 1})
	for _, method := range []string{http.MethodPost, http.MethodPatch} {
		s.api.AddStubResponse(fakeapi.StubResponse{
			Matcher: fakeapi.RequestMatcher{Method: method, Path: "/settings/1"},
			Status:  http.StatusMethodNotAllowed,
			Body:    map[string]any{"message": "Method not allowed"},
		})
	}
	settings := store.NewSettings(s.conn, zerolog.Nop())
	_, err := settings.Fetch(ctx)
	s.Require().NoError(err)

	_, err = settings.Update(ctx, 1, models.Record{"logo": image("logo.png")})
	s.Require().Error(err)
	s.Equal("Method not allowed", settings.Err())
	s.Len(s.api.RequestsTo(http.MethodPost, "/settings/1"), 1)
	s.Len(s.api.RequestsTo(http.MethodPatch, "/settings/1"), 1)
	s.False(settings.Loading())
}

func (s *StoreTestSuite) TestSettingsUploadRereadsMissingMedia() {
	ctx := context.Background()
	s.api.EchoMedia = false
	s.api.Seed("settings", map[string]any{"id": 1})
	settings := store.NewSettings(s.conn, zerolog.Nop())
	_, err := settings.Fetch(ctx)
	s.Require().NoError(err)

	rec, err := settings.Update(ctx, 1, models.Record{"logo": image("logo.png")})
	s.Require().NoError(err)
	s.Equal("/storage/settings/logo.png", rec["logo"])
	s.Len(s.api.RequestsTo(http.MethodGet, "/settings/1"), 1)
}
