package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/programshouse/medicaldash/pkg/connection"
	"github.com/programshouse/medicaldash/pkg/constants"
	"github.com/programshouse/medicaldash/pkg/envelope"
	"github.com/programshouse/medicaldash/pkg/models"
)

// sendUpdate sends body to path. JSON bodies use spec.UpdateMethod. Multipart
// bodies are tunnelled through POST with spec.OverrideMethod in _method; if
// the API rejects that, they are sent once more with the override verb itself.
func (b *base) sendUpdate(ctx context.Context, spec Spec, path string, body models.Record) (*connection.Response, error) {
	if !body.HasBlob() {
		return b.conn.Do(ctx, &connection.Request{Method: spec.UpdateMethod, Path: path, Body: body})
	}

	tunnelled := body.Clone()
	tunnelled[constants.MethodOverrideField] = spec.OverrideMethod
	res, err := b.conn.Do(ctx, &connection.Request{Method: http.MethodPost, Path: path, Body: tunnelled, Multipart: true})
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return res, err
	}

	b.logger.Debug().Err(err).Str("method", spec.OverrideMethod).Msg("method override rejected, sending multipart directly")
	return b.conn.Do(ctx, &connection.Request{Method: spec.OverrideMethod, Path: path, Body: body, Multipart: true})
}

// updated returns the record answered to an update of path. It reads the
// record again when the answer carries none or an uploaded file came back
// empty. A failed re-read keeps the answer when there is one.
func (b *base) updated(ctx context.Context, path string, id any, sent models.Record, res *connection.Response) (models.Record, error) {
	rec, ok := envelope.Record(res.Body)
	if !ok || missingMedia(sent, rec) {
		fresh, err := b.read(ctx, path)
		switch {
		case err == nil:
			rec = fresh
		case ok:
			b.logger.Warn().Err(err).Str("id", models.IDString(id)).Msg("could not re-read updated record")
		default:
			return nil, err
		}
	}
	if !rec.Has("id") {
		rec["id"] = id
	}
	return rec, nil
}

func (b *base) read(ctx context.Context, path string) (models.Record, error) {
	res, err := b.conn.Do(ctx, &connection.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	rec, ok := envelope.Record(res.Body)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an object", constants.ErrInvalidResponse, path)
	}
	return rec, nil
}

// retryable reports whether a rejected multipart update may be sent again
// with the alternate framing. Transport failures and 401 are final.
func retryable(err error) bool {
	var apiErr *connection.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return !errors.Is(err, constants.ErrAuthExpired)
}

// missingMedia reports whether a file uploaded in sent came back null or absent.
func missingMedia(sent, got models.Record) bool {
	for _, field := range sent.BlobFields() {
		if !got.Has(field) {
			return true
		}
	}
	return false
}
