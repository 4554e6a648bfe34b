package connection

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/programshouse/medicaldash/pkg/constants"
	"github.com/programshouse/medicaldash/pkg/models"
)

type RoundTripFunc func(req *http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// NewTestClient returns *http.Client with Transport replaced to avoid making real calls
func NewTestClient(fn RoundTripFunc) *http.Client {
	return &http.Client{
		Transport: fn,
	}
}

func jsonResponse(status int, body string) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		// Must be set to non-nil value or it panics
		Header: h,
	}
}

type HTTPTestSuite struct {
	suite.Suite
	token string
}

func TestHttpTestSuite(t *testing.T) {
	suite.Run(t, new(HTTPTestSuite))
}

func (s *HTTPTestSuite) SetupTest() {
	s.token = "secret-token"
}

func (s *HTTPTestSuite) newConnection(fn RoundTripFunc) *Connection {
	cfg, err := ParseConfig("http://test.local/api")
	s.Require().NoError(err)
	cfg.Tokens = TokenFunc(func() string { return s.token })
	return New(cfg).SetHTTPClient(NewTestClient(fn))
}

func (s *HTTPTestSuite) TestAuthHeaderAttached() {
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		s.Equal("http://test.local/api/blogs", req.URL.String())
		s.Equal("Bearer secret-token", req.Header.Get("Authorization"))
		s.NotEmpty(req.Header.Get(constants.RequestIDHeader))
		return jsonResponse(200, `{"data":[]}`), nil
	})

	_, err := con.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/blogs"})
	s.Require().NoError(err)
}

func (s *HTTPTestSuite) TestAuthHeaderOmittedWithoutToken() {
	s.token = ""
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		_, present := req.Header["Authorization"]
		s.False(present)
		return jsonResponse(200, `[]`), nil
	})

	_, err := con.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/services"})
	s.Require().NoError(err)
}

func (s *HTTPTestSuite) TestAnonymousRequestSkipsAuth() {
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		s.Empty(req.Header.Get("Authorization"))
		return jsonResponse(200, `{"token":"t"}`), nil
	})

	_, err := con.Do(context.Background(), &Request{
		Method:    http.MethodPost,
		Path:      constants.LoginPath,
		Body:      models.Record{"email": "a@b.c"},
		Anonymous: true,
	})
	s.Require().NoError(err)
}

func (s *HTTPTestSuite) TestJSONBody() {
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		s.Equal(constants.ContentTypeJSON, req.Header.Get("Content-Type"))
		body, _ := io.ReadAll(req.Body)
		s.JSONEq(`{"title":"A","tags":["x"]}`, string(body))
		return jsonResponse(201, `{"data":{"id":1,"title":"A"}}`), nil
	})

	res, err := con.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/blogs", Body: models.Record{"title": "A", "tags": []string{"x"}}})
	s.Require().NoError(err)
	s.Equal(201, res.Status)
	s.NotNil(res.Body)
}

func (s *HTTPTestSuite) TestMultipartBody() {
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
		s.Require().NoError(err)
		s.Equal(constants.ContentTypeMultipart, mediaType)

		form, err := multipart.NewReader(req.Body, params["boundary"]).ReadForm(1 << 20)
		s.Require().NoError(err)
		s.Equal([]string{"A"}, form.Value["title"])
		s.Equal([]string{`["a","b"]`}, form.Value["features"])
		s.Equal([]string{"1"}, form.Value["is_active"])
		s.NotContains(form.Value, "video")

		files := form.File["image"]
		s.Require().Len(files, 1)
		s.Equal("cat.png", files[0].Filename)
		f, err := files[0].Open()
		s.Require().NoError(err)
		data, _ := io.ReadAll(f)
		s.Equal([]byte("PNGDATA"), data)
		return jsonResponse(200, `{"data":{"id":3}}`), nil
	})

	_, err := con.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/workshops", Body: models.Record{
		"title":     "A",
		"features":  []string{"a", "b"},
		"is_active": true,
		"video":     nil,
		"image":     &models.Blob{Filename: "cat.png", ContentType: "image/png", Data: []byte("PNGDATA")},
	}})
	s.Require().NoError(err)
}

func (s *HTTPTestSuite) TestForcedMultipartWithoutBlob() {
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		s.True(strings.HasPrefix(req.Header.Get("Content-Type"), constants.ContentTypeMultipart))
		return jsonResponse(200, `{}`), nil
	})

	_, err := con.Do(context.Background(), &Request{
		Method:    http.MethodPost,
		Path:      "/reviews/1",
		Body:      models.Record{"_method": "PUT"},
		Multipart: true,
	})
	s.Require().NoError(err)
}

func (s *HTTPTestSuite) TestAPIErrorCarriesServerMessage() {
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(422, `{"message":"The title field is required.","errors":{"title":["required"]}}`), nil
	})

	_, err := con.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/blogs", Body: models.Record{}})
	var apiErr *APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(422, apiErr.Status)
	s.Equal("The title field is required.", apiErr.Message)
	s.Contains(apiErr.Errors, "title")
	s.False(errors.Is(err, constants.ErrAuthExpired))
}

func (s *HTTPTestSuite) TestAPIErrorFallbackMessage() {
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 500,
			Body:       io.NopCloser(bytes.NewReader([]byte("<html>oops</html>"))),
			Header:     make(http.Header),
		}, nil
	})

	_, err := con.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/blogs"})
	var apiErr *APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal("request failed with status 500 Internal Server Error", apiErr.Message)
}

func (s *HTTPTestSuite) TestUnauthorizedTriggersHook() {
	calls := 0
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(401, `{"message":"Unauthenticated."}`), nil
	})
	con.SetUnauthorizedHandler(func(context.Context) { calls++ })

	_, err := con.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/blogs"})
	s.Require().Error(err)
	s.True(errors.Is(err, constants.ErrAuthExpired))
	var apiErr *APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal("Unauthenticated.", apiErr.Message)
	s.Equal(1, calls)
}

func (s *HTTPTestSuite) TestUnauthorizedAnonymousDoesNotTriggerHook() {
	calls := 0
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(401, `{"message":"Invalid credentials"}`), nil
	})
	con.SetUnauthorizedHandler(func(context.Context) { calls++ })

	_, err := con.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/login", Anonymous: true})
	s.Require().Error(err)
	s.Equal(0, calls)
}

func (s *HTTPTestSuite) TestNetworkError() {
	boom := errors.New("connection refused")
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		return nil, boom
	})

	_, err := con.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/blogs"})
	var netErr *NetworkError
	s.Require().ErrorAs(err, &netErr)
	s.ErrorIs(err, boom)
	s.Equal("/blogs", netErr.Path)
}

func (s *HTTPTestSuite) TestEmptyBody() {
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 204, Body: http.NoBody, Header: make(http.Header)}, nil
	})

	res, err := con.Do(context.Background(), &Request{Method: http.MethodDelete, Path: "/blogs/1"})
	s.Require().NoError(err)
	s.Equal(204, res.Status)
	s.Nil(res.Body)
}

func (s *HTTPTestSuite) TestInvalidJSON() {
	con := s.newConnection(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(strings.NewReader("<!doctype html>")),
			Header:     make(http.Header),
		}, nil
	})

	_, err := con.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/blogs"})
	s.ErrorIs(err, constants.ErrInvalidResponse)
}

func (s *HTTPTestSuite) TestNoBaseURL() {
	con := New(&Config{})
	_, err := con.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/blogs"})
	s.ErrorIs(err, constants.ErrNoBaseURL)
}

func TestTimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	cfg, err := ParseConfig(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Timeout = 50 * time.Millisecond
	con := New(cfg)

	_, err = con.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/slow"})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	var timeout net.Error
	if !errors.As(err, &timeout) || !timeout.Timeout() {
		t.Fatalf("expected a timeout, got %v", err)
	}
}

func TestParseConfigRejectsRelative(t *testing.T) {
	_, err := ParseConfig("/api")
	if !errors.Is(err, constants.ErrNoBaseURL) {
		t.Fatalf("expected ErrNoBaseURL, got %v", err)
	}
}

func TestRequestSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	cfg, err := ParseConfig("http://test.local/api")
	require.NoError(t, err)
	cfg.TracerProvider = tp
	con := New(cfg).SetHTTPClient(NewTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnprocessableEntity, `{"message":"invalid"}`), nil
	}))

	_, err = con.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/services?lang=en", Body: models.Record{"title": "x"}})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /services", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, int64(http.StatusUnprocessableEntity), attrs["http.response.status_code"].AsInt64())
	assert.Equal(t, "/services", attrs["url.path"].AsString())
}
