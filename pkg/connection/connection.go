// Package connection is the HTTP adapter between the stores and the dashboard API.
//
// A [Connection] resolves paths against the configured base URL, attaches the
// bearer token from its [TokenSource], picks JSON or multipart encoding from the
// payload, and turns every outcome into either a decoded [Response] or one of
// [*NetworkError] and [*APIError]. A 401 on an authenticated request also fires
// the configured OnUnauthorized hook, which the session store uses to force a
// logout.
//
// No request is retried here.
package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/programshouse/medicaldash/internal/codec"
	"github.com/programshouse/medicaldash/pkg/constants"
	"github.com/programshouse/medicaldash/pkg/models"
)

const tracerName = "github.com/programshouse/medicaldash/pkg/connection"

// Request describes one API call.
type Request struct {
	Method string
	// Path is relative to the base URL and may carry a query string.
	Path string
	Body models.Record
	// Multipart forces multipart encoding even without blob fields.
	Multipart bool
	// Anonymous omits the Authorization header and disables the 401 hook.
	Anonymous bool
}

// Response is a decoded 2xx answer. Body is nil when the server sent no content.
type Response struct {
	Status int
	Header http.Header
	Body   any
}

type Connection struct {
	baseURL        string
	httpClient     *http.Client
	codec          codec.Codec
	logger         zerolog.Logger
	tokens         TokenSource
	onUnauthorized func(ctx context.Context)
	tracer         trace.Tracer
}

func New(p *Config) *Connection {
	con := Connection{
		baseURL:        strings.TrimRight(p.BaseURL, "/"),
		httpClient:     p.HTTPClient,
		codec:          p.Codec,
		logger:         p.Logger,
		tokens:         p.Tokens,
		onUnauthorized: p.OnUnauthorized,
	}

	tp := p.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	con.tracer = tp.Tracer(tracerName)

	if con.httpClient == nil {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = constants.DefaultHTTPTimeout
		}
		con.httpClient = &http.Client{
			Timeout: timeout,
		}
	}
	if con.codec == nil {
		con.codec = codec.JSON{}
	}

	return &con
}

func (c *Connection) SetHTTPClient(client *http.Client) *Connection {
	c.httpClient = client
	return c
}

// SetTokenSource replaces the token source. Used when the session store is
// built after the connection.
func (c *Connection) SetTokenSource(tokens TokenSource) *Connection {
	c.tokens = tokens
	return c
}

// SetUnauthorizedHandler replaces the 401 hook.
func (c *Connection) SetUnauthorizedHandler(fn func(ctx context.Context)) *Connection {
	c.onUnauthorized = fn
	return c
}

// Do sends r and decodes the reply.
func (c *Connection) Do(ctx context.Context, r *Request) (*Response, error) {
	if c.baseURL == "" {
		return nil, constants.ErrNoBaseURL
	}

	ctx, span := c.tracer.Start(ctx, r.Method+" "+pathOnly(r.Path), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := c.newRequest(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.String("url.path", pathOnly(r.Path)),
		attribute.String("request.id", req.Header.Get(constants.RequestIDHeader)),
	)

	start := time.Now()
	res, err := c.MakeRequest(req)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			span.SetAttributes(attribute.Int("http.response.status_code", apiErr.Status))
			c.logger.Debug().Str("method", r.Method).Str("path", r.Path).Int("status", apiErr.Status).
				Dur("elapsed", elapsed).Msg("request rejected")
			if apiErr.Status == http.StatusUnauthorized && !r.Anonymous && c.onUnauthorized != nil {
				c.logger.Info().Str("path", r.Path).Msg("unauthorized response, ending session")
				c.onUnauthorized(ctx)
			}
			return nil, err
		}
		if errors.Is(err, constants.ErrInvalidResponse) {
			c.logger.Warn().Err(err).Str("method", r.Method).Str("path", r.Path).Msg("undecodable response")
			return nil, err
		}
		c.logger.Debug().Err(err).Str("method", r.Method).Str("path", r.Path).Dur("elapsed", elapsed).Msg("request failed")
		return nil, &NetworkError{Method: r.Method, Path: r.Path, Err: err}
	}

	span.SetAttributes(attribute.Int("http.response.status_code", res.Status))
	c.logger.Debug().Str("method", r.Method).Str("path", r.Path).Int("status", res.Status).
		Dur("elapsed", elapsed).Msg("request done")
	return res, nil
}

func (c *Connection) newRequest(ctx context.Context, r *Request) (*http.Request, error) {
	var (
		body        io.Reader = http.NoBody
		contentType string
	)

	if r.Body != nil {
		if r.Multipart || r.Body.HasBlob() {
			buf, ct, err := encodeMultipart(r.Body)
			if err != nil {
				return nil, fmt.Errorf("encode multipart body: %w", err)
			}
			body, contentType = buf, ct
		} else {
			data, err := c.codec.Marshal(r.Body)
			if err != nil {
				return nil, fmt.Errorf("encode json body: %w", err)
			}
			body, contentType = bytes.NewReader(data), constants.ContentTypeJSON
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.resolve(r.Path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", constants.ContentTypeJSON)
	req.Header.Set(constants.RequestIDHeader, uuid.NewString())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if !r.Anonymous && c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// MakeRequest sends req. Non-2xx statuses become *APIError and undecodable
// 2xx bodies wrap constants.ErrInvalidResponse. Anything else is a transport failure.
func (c *Connection) MakeRequest(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res := &Response{Status: resp.StatusCode, Header: resp.Header}
		if len(bytes.TrimSpace(respBytes)) == 0 {
			return res, nil
		}
		var decoded any
		if err := c.codec.Unmarshal(respBytes, &decoded); err != nil {
			return nil, fmt.Errorf("%w: status %d: %s", constants.ErrInvalidResponse, resp.StatusCode, snippet(respBytes))
		}
		res.Body = decoded
		return res, nil
	}

	return nil, c.apiError(resp.StatusCode, respBytes)
}

func (c *Connection) apiError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: fallbackMessage(status)}

	var decoded any
	if err := c.codec.Unmarshal(body, &decoded); err != nil {
		return apiErr
	}
	m, ok := models.AsRecord(decoded)
	if !ok {
		return apiErr
	}
	if msg, ok := m.String("message"); ok {
		apiErr.Message = msg
	} else if msg, ok := m.String("error"); ok {
		apiErr.Message = msg
	}
	if details, ok := models.AsRecord(m["errors"]); ok {
		apiErr.Errors = details
	}
	return apiErr
}

func (c *Connection) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func pathOnly(path string) string {
	if u, err := url.Parse(path); err == nil {
		return u.Path
	}
	return path
}

func snippet(b []byte) string {
	const limit = 120
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
