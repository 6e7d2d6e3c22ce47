// Package transform implements the per-field transformation algorithm:
// bare-name base transformers, interpolated-expression placeholder
// resolution against the shared registry and storage, and a sandboxed
// arithmetic/string expression evaluator for the residual expression.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fluxgate/internal/logging"
	"fluxgate/internal/model"
	"fluxgate/internal/registry"
)

// SnapshotSource is the subset of registry.Registry the engine needs to
// resolve {Ingester.field} and {Ingester.idx} placeholders.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, ingester string) (registry.Snapshot, bool, error)
}

// SeriesSource loads a numeric window for a {target::fn(lookback)} series
// transformer. Implementations live in internal/storage.
type SeriesSource interface {
	FetchSeries(ctx context.Context, ingester, field string, from, to time.Time, interval model.Interval) ([]float64, error)
}

// Engine applies transformer chains to ingester fields.
type Engine struct {
	snapshots SnapshotSource
	series    SeriesSource
	asts      *ASTCache
	log       *slog.Logger
	clock     func() time.Time

	// set per ApplyField call so series placeholders can resolve "self".
	selfIngester string
	selfField    string
	selfInterval model.Interval
}

// Option configures an Engine at construction.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// NewEngine builds an Engine. snapshots/series may be nil if the caller
// never exercises the corresponding placeholder kinds (tests of pure base
// transformers, for instance).
func NewEngine(snapshots SnapshotSource, series SeriesSource, opts ...Option) *Engine {
	e := &Engine{
		snapshots: snapshots,
		series:    series,
		asts:      NewASTCache(),
		log:       logging.Discard(),
		clock:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

var bareWordPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
var numericLiteralPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// ApplyField runs ing's field.Transformers in declaration order, mutating
// field.Value, against the sibling values already computed this tick
// (dataByField). dataByField is both read from ({sibling} references
// resolve only from it; the engine does not consult the ingester's last
// committed snapshot, so a sibling absent from dataByField is an
// ErrUnknownField error) and written to (this field's final value, so later
// fields in declaration order see it).
func (e *Engine) ApplyField(ctx context.Context, ing *model.Ingester, field *model.Field, dataByField map[string]any) error {
	e.selfIngester = ing.Name
	e.selfField = field.Name
	e.selfInterval = ing.Interval

	cache := NewReferenceCache()
	value := field.Value

	for _, raw := range field.Transformers {
		t := strings.TrimSpace(raw)
		if t == "" {
			continue
		}

		if bareWordPattern.MatchString(t) {
			fn, ok := BaseTransformers[t]
			if !ok {
				return fmt.Errorf("transform: field %s: unknown base transformer %q", field.Name, t)
			}
			v, err := fn(value)
			if err != nil {
				return fmt.Errorf("transform: field %s: %s: %w", field.Name, t, err)
			}
			value = v
			continue
		}
		if numericLiteralPattern.MatchString(t) {
			f, err := strconv.ParseFloat(t, 64)
			if err != nil {
				return fmt.Errorf("transform: field %s: invalid numeric literal %q", field.Name, t)
			}
			value = f
			continue
		}

		resolved, err := e.resolvePlaceholders(ctx, t, dataByField, value, cache)
		if err != nil {
			return fmt.Errorf("transform: field %s: %w", field.Name, err)
		}

		ast, err := e.asts.Parse(resolved)
		if err != nil {
			return fmt.Errorf("transform: field %s: expression %q: %w", field.Name, resolved, err)
		}
		v, err := Evaluate(ast)
		if err != nil {
			return fmt.Errorf("transform: field %s: expression %q: %w", field.Name, resolved, err)
		}
		value = v
	}

	field.Value = value
	dataByField[field.Name] = value
	return nil
}

// ApplyIngester runs ApplyField over every field of ing, in declaration
// order: a field can reference any sibling declared before it via its
// freshly computed value. A sibling declared after it resolves only if the
// caller already put a value for it into dataByField; otherwise ApplyField
// fails with ErrUnknownField.
func (e *Engine) ApplyIngester(ctx context.Context, ing *model.Ingester, dataByField map[string]any) error {
	for i := range ing.Fields {
		if err := e.ApplyField(ctx, ing, &ing.Fields[i], dataByField); err != nil {
			return err
		}
	}
	return nil
}
