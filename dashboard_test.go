package medicaldash_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/programshouse/medicaldash"
	"github.com/programshouse/medicaldash/internal/fakeapi"
	"github.com/programshouse/medicaldash/pkg/connection"
	"github.com/programshouse/medicaldash/pkg/constants"
	"github.com/programshouse/medicaldash/pkg/models"
	"github.com/programshouse/medicaldash/pkg/storage"
)

type DashboardTestSuite struct {
	suite.Suite
	api       *fakeapi.Server
	storage   *storage.Memory
	signedOut int
}

func TestDashboardTestSuite(t *testing.T) {
	suite.Run(t, new(DashboardTestSuite))
}

func (s *DashboardTestSuite) SetupTest() {
	s.api = fakeapi.NewServer()
	s.storage = storage.NewMemory()
	s.signedOut = 0
}

func (s *DashboardTestSuite) TearDownTest() {
	s.api.Close()
}

func (s *DashboardTestSuite) open(opts medicaldash.Options) *medicaldash.Dashboard {
	opts.BaseURL = s.api.URL()
	opts.HTTPClient = s.api.Client()
	opts.Storage = s.storage
	opts.Logger = zerolog.Nop()
	opts.OnSignedOut = func() { s.signedOut++ }
	d, err := medicaldash.New(context.Background(), opts)
	s.Require().NoError(err)
	return d
}

func (s *DashboardTestSuite) login(d *medicaldash.Dashboard) {
	_, err := d.Session.Login(context.Background(), s.api.Email, s.api.Password)
	s.Require().NoError(err)
}

func (s *DashboardTestSuite) TestRequestsCarryToken() {
	ctx := context.Background()
	d := s.open(medicaldash.Options{})
	s.True(d.Session.Initialized())

	_, err := d.Blogs.FetchAll(ctx)
	s.ErrorIs(err, constants.ErrAuthExpired)
	s.Equal(1, s.signedOut)

	s.login(d)
	_, err = d.Blogs.Create(ctx, models.Record{"title": "Heart health"})
	s.Require().NoError(err)

	for _, req := range s.api.Requests() {
		if req.Path == constants.LoginPath {
			s.Empty(req.Header.Get("Authorization"))
			continue
		}
		if req.Method == http.MethodPost {
			s.Equal("Bearer "+s.api.Token, req.Header.Get("Authorization"))
		}
	}
}

func (s *DashboardTestSuite) TestUnauthorizedForcesLogout() {
	ctx := context.Background()
	d := s.open(medicaldash.Options{})
	s.login(d)
	s.Equal(3, s.storage.Len())

	s.api.Token = "rotated"
	_, err := d.Services.FetchAll(ctx)
	var apiErr *connection.APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(http.StatusUnauthorized, apiErr.Status)

	s.Empty(d.Session.Token())
	s.Equal(0, s.storage.Len())
	s.Equal(1, s.signedOut)
	s.Equal(apiErr.Message, d.Services.Err())
}

func (s *DashboardTestSuite) TestSessionSurvivesRestart() {
	first := s.open(medicaldash.Options{})
	s.login(first)

	second := s.open(medicaldash.Options{})
	s.Equal(s.api.Token, second.Session.Token())
	s.Equal("Admin", second.Session.Principal()["name"])

	_, err := second.Workshops.FetchAll(context.Background())
	s.NoError(err)
}

func (s *DashboardTestSuite) TestCounts() {
	ctx := context.Background()
	s.api.Seed("blogs", map[string]any{"title": "a"}, map[string]any{"title": "b"})
	s.api.Seed("reviews", map[string]any{"name": "r"})
	s.api.AddStubResponse(fakeapi.StubResponse{
		Matcher: fakeapi.RequestMatcher{Method: http.MethodGet, Path: "/contacts"},
		Status:  http.StatusInternalServerError,
		Body:    map[string]any{"message": "contacts unavailable"},
	})
	d := s.open(medicaldash.Options{})
	s.login(d)

	counts, err := d.Counts(ctx)
	s.Require().Error(err)
	s.Contains(err.Error(), "contacts: contacts unavailable")
	s.Equal(map[string]int{"blogs": 2, "services": 0, "workshops": 0, "reviews": 1}, counts)
	s.Len(d.Blogs.Items(), 2)
}

func (s *DashboardTestSuite) TestOverrideMethodAndFieldNames() {
	ctx := context.Background()
	s.api.Seed("reviews", map[string]any{"id": 3, "name": "Sam"})
	d := s.open(medicaldash.Options{
		OverrideMethod: http.MethodPut,
		FieldNames:     map[string]map[string]string{"reviews": {"user_image": "image"}},
	})
	s.login(d)

	_, err := d.Reviews.Update(ctx, 3, models.Record{"user_image": models.NewBlob("me.png", []byte("png"))})
	s.Require().NoError(err)

	reqs := s.api.RequestsTo(http.MethodPost, "/reviews/3")
	s.Require().Len(reqs, 1)
	s.Equal(http.MethodPut, reqs[0].Form[constants.MethodOverrideField])
	s.Contains(reqs[0].Files, "image")
}

func (s *DashboardTestSuite) TestSettingsRoundTrip() {
	ctx := context.Background()
	d := s.open(medicaldash.Options{})
	s.login(d)

	_, err := d.Settings.Save(ctx, models.Record{"site_name": "prof"})
	s.Require().NoError(err)
	_, err = d.Settings.Save(ctx, models.Record{"phone": "012345678"})
	s.Require().NoError(err)

	fresh := s.open(medicaldash.Options{})
	rec, err := fresh.Settings.Fetch(ctx)
	s.Require().NoError(err)
	s.Equal("prof", rec["site_name"])
	s.Equal("012345678", rec["phone"])
}

func TestCollectionLookup(t *testing.T) {
	d, err := medicaldash.New(context.Background(), medicaldash.Options{BaseURL: "http://api.test"})
	require.NoError(t, err)
	defer d.Close()

	for _, name := range []string{"blogs", "Blog", "services", "workshop", "reviews", "contacts"} {
		st, ok := d.Collection(name)
		assert.True(t, ok, name)
		assert.NotNil(t, st, name)
	}
	_, ok := d.Collection("settings")
	assert.False(t, ok)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := medicaldash.New(context.Background(), medicaldash.Options{})
	assert.ErrorIs(t, err, constants.ErrNoBaseURL)
}
