// Package cli implements the medadmin command line client.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/programshouse/medicaldash"
	"github.com/programshouse/medicaldash/internal/codec"
	"github.com/programshouse/medicaldash/internal/config"
	"github.com/programshouse/medicaldash/internal/telemetry"
	"github.com/programshouse/medicaldash/pkg/logger"
	"github.com/programshouse/medicaldash/pkg/media"
	"github.com/programshouse/medicaldash/pkg/models"
	"github.com/programshouse/medicaldash/pkg/storage"
	"github.com/programshouse/medicaldash/pkg/store"
)

// Main runs one medadmin command. Results are written to stdout as JSON,
// logs and notifications go to stderr.
//
// Configuration comes from MEDADMIN_ environment variables, optionally read
// from a dotenv file first:
//
//	MEDADMIN_API_URL       - API base URL
//	MEDADMIN_STORAGE       - session storage: sqlite (default), file or memory
//	MEDADMIN_STORAGE_PATH  - session storage location
//	MEDADMIN_LOG_LEVEL     - debug, info, warn or error
//	MEDADMIN_OTEL_ENDPOINT - OTLP/HTTP trace endpoint, tracing is off when empty
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd, flags, err := Parse(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(flags.EnvFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	build := logger.New().FromBuffer(stderr).WithLevel(cfg.LogLevel).Console(flags.Console).With("app", "medadmin")
	if cfg.LogFile != "" {
		build = build.FromPath(cfg.LogFile)
	}
	logData, err := build.Make()
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer logData.Close()
	log := logData.Logger

	shutdown, err := telemetry.Setup(ctx, "medadmin", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("flush traces")
		}
	}()

	st, err := storage.Open(cfg.Storage, cfg.DefaultStoragePath())
	if err != nil {
		return fmt.Errorf("failed to open session storage: %w", err)
	}

	d, err := medicaldash.New(ctx, medicaldash.Options{
		BaseURL:        cfg.APIURL,
		Timeout:        cfg.Timeout,
		Logger:         log,
		Storage:        st,
		SessionTTL:     cfg.SessionTTL,
		OverrideMethod: cfg.UpdateOverrideMethod,
		MediaDir:       cfg.MediaDir,
		OnExpired: func(message string) {
			fmt.Fprintln(stderr, message)
		},
		OnSignedOut: func() {
			fmt.Fprintln(stderr, "Signed out, please login again.")
		},
	})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to create dashboard: %w", err)
	}
	defer d.Close()

	a := &app{d: d, cfg: cfg, out: stdout, indent: flags.Indent}
	return a.run(ctx, cmd)
}

type app struct {
	d      *medicaldash.Dashboard
	cfg    *config.Config
	out    io.Writer
	indent bool
}

func (a *app) run(ctx context.Context, cmd *Command) error {
	if cmd.Name != "login" && cmd.Name != "watch" {
		a.d.Session.CheckSession(ctx)
	}

	switch cmd.Name {
	case "login":
		principal, err := a.d.Session.Login(ctx, cmd.Email, cmd.Password)
		if err != nil {
			return err
		}
		return a.print(principal)
	case "logout":
		return a.d.Session.Logout(ctx)
	case "status":
		s := a.d.Session.State()
		out := models.Record{"active": s.Active(), "principal": s.Principal}
		if !s.ExpiresAt.IsZero() {
			out["expires_at"] = s.ExpiresAt.UTC().Format(time.RFC3339)
		}
		return a.print(out)
	case "profile":
		principal, err := a.d.Session.Profile(ctx)
		if err != nil {
			return err
		}
		return a.print(principal)
	case "counts":
		counts, err := a.d.Counts(ctx)
		if perr := a.print(counts); perr != nil {
			return perr
		}
		return err
	case "watch":
		a.d.Session.Watch(ctx, a.cfg.SessionCheckInterval)
		return nil
	case "settings":
		rec, err := a.d.Settings.Fetch(ctx)
		if err != nil {
			return err
		}
		return a.print(rec)
	case "settings-save":
		input, err := ParseFields(cmd.Fields)
		if err != nil {
			return err
		}
		if _, err := a.d.Settings.Fetch(ctx); err != nil {
			return err
		}
		rec, err := a.d.Settings.Save(ctx, input)
		if err != nil {
			return err
		}
		return a.print(rec)
	}

	st, ok := a.d.Collection(cmd.Resource)
	if !ok {
		return fmt.Errorf("unknown resource: %s", cmd.Resource)
	}
	switch cmd.Name {
	case "list":
		items, err := st.FetchAll(ctx)
		if err != nil {
			return err
		}
		return a.print(items)
	case "get":
		rec, err := st.FetchByID(ctx, cmd.ID)
		if err != nil {
			return err
		}
		return a.print(rec)
	case "delete":
		return st.Delete(ctx, cmd.ID)
	case "create":
		input, err := ParseFields(cmd.Fields)
		if err != nil {
			return err
		}
		rec, err := st.Create(ctx, input)
		if err != nil {
			return err
		}
		return a.print(rec)
	case "update":
		input, err := ParseFields(cmd.Fields)
		if err != nil {
			return err
		}
		rec, err := st.Update(ctx, cmd.ID, input)
		if err != nil {
			return err
		}
		return a.print(rec)
	case "media":
		return a.media(ctx, st, cmd)
	default:
		return fmt.Errorf("unknown command type: %s", cmd.Name)
	}
}

func (a *app) media(ctx context.Context, st *store.Store, cmd *Command) error {
	rec, err := st.FetchByID(ctx, cmd.ID)
	if err != nil {
		return err
	}
	holder := media.NewHolder(a.d.Media)
	defer holder.Close()

	url, err := holder.Set(rec[cmd.Field], media.CacheKey(rec, time.Now()))
	if err != nil {
		return err
	}
	return a.print(models.Record{"field": cmd.Field, "url": url})
}

func (a *app) print(v any) error {
	enc := codec.JSON{}.NewEncoder(a.out)
	if a.indent {
		if ind, ok := enc.(interface{ SetIndent(prefix, indent string) }); ok {
			ind.SetIndent("", "  ")
		}
	}
	return enc.Encode(v)
}

// ParseFields turns name=value arguments into a record. name=@path reads the
// file at path as an upload and name:=json decodes the value as JSON.
func ParseFields(args []string) (models.Record, error) {
	rec := make(models.Record, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" || name == ":" {
			return nil, fmt.Errorf("field %q must be name=value", arg)
		}
		switch {
		case strings.HasSuffix(name, ":"):
			name = strings.TrimSuffix(name, ":")
			v, err := models.DecodeJSON([]byte(value))
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			rec[name] = v
		case strings.HasPrefix(value, "@"):
			blob, err := models.ReadBlob(strings.TrimPrefix(value, "@"))
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			rec[name] = blob
		default:
			rec[name] = value
		}
	}
	return rec, nil
}
