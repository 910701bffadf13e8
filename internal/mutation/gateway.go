// Package mutation is the only write path for existing records. It checks
// the shape of a patch, then hands a typed change set to the store, which
// enforces the lock.
package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/celerix-dev/celerix-collections/internal/ctxutil"
	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/internal/observability"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// ErrInvalidPatch marks a patch with unknown keys, no keys or bad values.
var ErrInvalidPatch = schema.ErrValidation

// MaxFieldLength is the widest value a text field may hold.
const MaxFieldLength = 255

// patchFields is the patch flattened to plain strings for validation.
// Absent and cleared fields are both "", which every rule accepts.
type patchFields struct {
	Name    string `validate:"max=255"`
	Email   string `validate:"omitempty,email,max=255"`
	Contact string `validate:"max=255"`
	Date    string `validate:"omitempty,datetime=2006-01-02"`
}

var patchValidate = validator.New()

// Gateway validates and applies edits.
type Gateway struct {
	store   engine.Updater
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewGateway returns a gateway writing through store. logger and metrics
// may be nil.
func NewGateway(store engine.Updater, logger *slog.Logger, metrics *observability.Metrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{store: store, logger: logger, metrics: metrics}
}

// DecodePatch parses a JSON object holding only Name, Email, Contact and
// Date. Key matching is case-insensitive.
func DecodePatch(data []byte) (schema.Patch, error) {
	var p schema.Patch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return schema.Patch{}, fmt.Errorf("%w: empty body", ErrInvalidPatch)
		}
		return schema.Patch{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if dec.More() {
		return schema.Patch{}, fmt.Errorf("%w: trailing data after patch object", ErrInvalidPatch)
	}
	if p.IsEmpty() {
		return schema.Patch{}, fmt.Errorf("%w: patch names no field", ErrInvalidPatch)
	}
	return p, nil
}

// Update applies patch to the record. It returns ErrInvalidPatch,
// engine.ErrNotFound or engine.ErrLocked wrapped with context; a locked
// record is never modified.
func (g *Gateway) Update(ctx context.Context, recordID int64, patch schema.Patch) (schema.Record, error) {
	actor := ctxutil.ActorFromContext(ctx)

	changes, err := Validate(patch)
	if err != nil {
		g.metrics.ObserveUpdate(observability.UpdateInvalid)
		g.logger.Info("update rejected", "record_id", recordID, "actor", actor, "error", err)
		return schema.Record{}, err
	}

	rec, err := g.store.ApplyUpdate(recordID, changes, actor)
	switch {
	case err == nil:
		g.metrics.ObserveUpdate(observability.UpdateApplied)
		g.logger.Info("record updated", "record_id", recordID, "actor", actor, "version", rec.Version)
		return rec, nil
	case errors.Is(err, engine.ErrLocked):
		g.metrics.ObserveUpdate(observability.UpdateLocked)
		g.logger.Warn("update refused on read-only record", "record_id", recordID, "actor", actor)
	case errors.Is(err, engine.ErrNotFound):
		g.metrics.ObserveUpdate(observability.UpdateNotFound)
		g.logger.Info("update for unknown record", "record_id", recordID, "actor", actor)
	default:
		g.metrics.ObserveUpdate(observability.UpdateError)
		g.logger.Error("update failed", "record_id", recordID, "actor", actor, "error", err)
	}
	return schema.Record{}, err
}

// Validate checks field values and converts the patch to a change set.
func Validate(patch schema.Patch) (schema.Changes, error) {
	if patch.IsEmpty() {
		return schema.Changes{}, fmt.Errorf("%w: patch names no field", ErrInvalidPatch)
	}
	fields := patchFields{
		Name:    trimmed(patch.Name),
		Email:   trimmed(patch.Email),
		Contact: trimmed(patch.Contact),
		Date:    trimmed(patch.Date),
	}
	if err := patchValidate.Struct(fields); err != nil {
		return schema.Changes{}, fmt.Errorf("%w: %s", ErrInvalidPatch, describe(err))
	}

	changes := schema.Changes{
		Name:    keep(patch.Name, fields.Name),
		Email:   keep(patch.Email, fields.Email),
		Contact: keep(patch.Contact, fields.Contact),
	}
	if patch.Date != nil {
		// A zero Date clears the field.
		var d schema.Date
		if fields.Date != "" {
			parsed, err := schema.ParseDate(fields.Date)
			if err != nil {
				return schema.Changes{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
			}
			d = parsed
		}
		changes.Date = &d
	}
	return changes, nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// keep returns a pointer to v only for fields the patch named.
func keep(orig *string, v string) *string {
	if orig == nil {
		return nil
	}
	return &v
}

// describe turns validator output into a short client message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email address", fe.Field()))
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("%s must use YYYY-MM-DD", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %d characters", fe.Field(), MaxFieldLength))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
