package medicaldash

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/programshouse/medicaldash/pkg/connection"
	"github.com/programshouse/medicaldash/pkg/media"
	"github.com/programshouse/medicaldash/pkg/session"
	"github.com/programshouse/medicaldash/pkg/storage"
	"github.com/programshouse/medicaldash/pkg/store"
)

// Options configures a Dashboard. Only BaseURL is required.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger

	// Storage persists the session. Defaults to in-memory storage.
	Storage    storage.Storage
	Clock      func() time.Time
	SessionTTL time.Duration

	// OverrideMethod is the verb tunnelled through POST for multipart
	// updates: PATCH (default) or PUT.
	OverrideMethod string
	// FieldNames renames outgoing fields per resource, keyed by resource
	// name ("reviews") and then local field name.
	FieldNames map[string]map[string]string

	MediaDir string

	// OnExpired shows the session-expired notification.
	OnExpired func(message string)
	// OnSignedOut navigates to the sign-in screen after a forced logout.
	OnSignedOut func()
}

// Dashboard wires the connection, the session and every resource store.
type Dashboard struct {
	Conn    *connection.Connection
	Session *session.Store

	Blogs     *store.Store
	Services  *store.Store
	Workshops *store.Store
	Reviews   *store.Store
	Contacts  *store.Store
	Settings  *store.SettingsStore

	Media *media.Resolver

	storage storage.Storage
	logger  zerolog.Logger
}

// New builds a Dashboard and hydrates the session from storage.
func New(ctx context.Context, opts Options) (*Dashboard, error) {
	cfg, err := connection.ParseConfig(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	cfg.HTTPClient = opts.HTTPClient
	cfg.Logger = opts.Logger
	if opts.Storage == nil {
		opts.Storage = storage.NewMemory()
	}

	conn := connection.New(cfg)
	sess := session.New(session.Options{
		Conn:        conn,
		Storage:     opts.Storage,
		Logger:      opts.Logger,
		Clock:       opts.Clock,
		TTL:         opts.SessionTTL,
		OnExpired:   opts.OnExpired,
		OnSignedOut: opts.OnSignedOut,
	})
	conn.SetTokenSource(sess).SetUnauthorizedHandler(sess.HandleUnauthorized)

	spec := func(base store.Spec) store.Spec {
		base.OverrideMethod = opts.OverrideMethod
		if names, ok := opts.FieldNames[base.Name]; ok {
			base.FieldNames = names
		}
		return base
	}

	d := &Dashboard{
		Conn:      conn,
		Session:   sess,
		Blogs:     store.New(conn, spec(store.BlogSpec), opts.Logger),
		Services:  store.New(conn, spec(store.ServiceSpec), opts.Logger),
		Workshops: store.New(conn, spec(store.WorkshopSpec), opts.Logger),
		Reviews:   store.New(conn, spec(store.ReviewSpec), opts.Logger),
		Contacts:  store.New(conn, spec(store.ContactSpec), opts.Logger),
		Settings:  store.NewSettingsWithSpec(conn, spec(store.SettingsSpec), opts.Logger),
		Media:     media.NewResolver(opts.MediaDir, opts.Logger),
		storage:   opts.Storage,
		logger:    opts.Logger,
	}

	if err := sess.LoadFromStorage(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Close releases the session storage.
func (d *Dashboard) Close() error {
	return d.storage.Close()
}

// Collections returns the collection stores by resource name.
func (d *Dashboard) Collections() map[string]*store.Store {
	return map[string]*store.Store{
		store.BlogSpec.Name:     d.Blogs,
		store.ServiceSpec.Name:  d.Services,
		store.WorkshopSpec.Name: d.Workshops,
		store.ReviewSpec.Name:   d.Reviews,
		store.ContactSpec.Name:  d.Contacts,
	}
}

// Collection looks a store up by resource name. Singular names work too.
func (d *Dashboard) Collection(name string) (*store.Store, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	all := d.Collections()
	if st, ok := all[name]; ok {
		return st, true
	}
	st, ok := all[name+"s"]
	return st, ok
}

// Counts fetches every collection independently and reports its size.
// Resources that failed are missing from the result and their errors are
// joined. The counts are not a consistent snapshot.
func (d *Dashboard) Counts(ctx context.Context) (map[string]int, error) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		counts = make(map[string]int)
		errs   []error
	)
	for name, st := range d.Collections() {
		wg.Add(1)
		go func(name string, st *store.Store) {
			defer wg.Done()
			items, err := st.FetchAll(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			counts[name] = len(items)
		}(name, st)
	}
	wg.Wait()

	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	if len(errs) > 0 {
		d.logger.Warn().Int("failed", len(errs)).Msg("dashboard counts incomplete")
	}
	return counts, errors.Join(errs...)
}
