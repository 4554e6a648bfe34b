package connection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/programshouse/medicaldash/internal/codec"
	"github.com/programshouse/medicaldash/pkg/constants"
)

// TokenSource supplies the bearer token for outgoing requests. An empty
// token means the Authorization header is omitted.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a plain function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Config holds everything a Connection needs.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Codec      codec.Codec
	Logger     zerolog.Logger
	Tokens     TokenSource
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// OnUnauthorized runs after any authenticated request is answered with 401.
	OnUnauthorized func(ctx context.Context)
}

// NewConfig creates a Config for the API rooted at u, e.g.
// "https://www.programshouse.com/dashboards/medical/api".
func NewConfig(u *url.URL) *Config {
	return &Config{
		BaseURL: strings.TrimRight(u.String(), "/"),
		Timeout: constants.DefaultHTTPTimeout,
		Codec:   codec.JSON{},
		Logger:  zerolog.Nop(),
	}
}

// ParseConfig is NewConfig for a URL string.
func ParseConfig(rawURL string) (*Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", constants.ErrNoBaseURL, rawURL)
	}
	return NewConfig(u), nil
}
