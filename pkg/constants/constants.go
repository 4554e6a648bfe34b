package constants

import "time"

// Endpoints exposed by the dashboard API, relative to the configured base URL.
const (
	LoginPath    = "/login"
	ProfilePath  = "/profile"
	BlogsPath    = "/blogs"
	ServicesPath = "/services"
	WorkshopPath = "/workshops"
	ReviewsPath  = "/reviews"
	SettingsPath = "/settings"
	ContactsPath = "/contacts"
)

// DefaultBaseURL is the production API root used when nothing else is configured.
const DefaultBaseURL = "https://www.programshouse.com/dashboards/medical/api"

const (
	// DefaultHTTPTimeout bounds a single request including reading the body.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultSessionTTL is how long a login stays valid on this client.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultSessionCheckInterval is the liveness check period.
	DefaultSessionCheckInterval = 24 * time.Minute
)

// Keys of the persisted session. They are always written and cleared together.
const (
	AccessTokenKey = "access_token"
	PrincipalKey   = "principal"
	ExpiryTimeKey  = "expiry_time"
)

// SessionKeys lists every persisted session key.
var SessionKeys = []string{AccessTokenKey, PrincipalKey, ExpiryTimeKey}

// MethodOverrideField is the multipart form field carrying the intended verb
// when an update is tunnelled through POST.
const MethodOverrideField = "_method"

const (
	ContentTypeJSON      = "application/json"
	ContentTypeMultipart = "multipart/form-data"
	RequestIDHeader      = "X-Request-ID"
)
