package transform

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"fluxgate/internal/model"
)

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// placeholderKind classifies the content of one {...} span.
type placeholderKind int

const (
	phSelf placeholderKind = iota
	phSibling
	phIngesterField
	phIngesterIdx
	phSeries
)

type placeholder struct {
	kind     placeholderKind
	ingester string // for phIngesterField / phIngesterIdx
	field    string // for phSibling / phIngesterField
	target   string // for phSeries: "self" or a field name
	fn       string // for phSeries
	lookback model.Interval
}

var dottedPattern = regexp.MustCompile(`^([A-Za-z_][\w]*)\.([A-Za-z_][\w]*)$`)
var seriesPattern = regexp.MustCompile(`^([A-Za-z_][\w]*)::([A-Za-z_][\w]*)\(([^)]*)\)$`)

func classifyPlaceholder(content string) placeholder {
	content = strings.TrimSpace(content)
	if content == "self" {
		return placeholder{kind: phSelf}
	}
	if m := seriesPattern.FindStringSubmatch(content); m != nil {
		return placeholder{kind: phSeries, target: m[1], fn: m[2], lookback: model.Interval(m[3])}
	}
	if m := dottedPattern.FindStringSubmatch(content); m != nil {
		if m[2] == "idx" {
			return placeholder{kind: phIngesterIdx, ingester: m[1]}
		}
		return placeholder{kind: phIngesterField, ingester: m[1], field: m[2]}
	}
	return placeholder{kind: phSibling, field: content}
}

// resolvePlaceholders expands every {...} span in expr, consulting the
// registry for cross-ingester references (through cache to dedupe lookups
// within one field's transformer chain) and storage for series expansions.
// Sibling/self references are resolved purely from dataByField, with no I/O.
func (e *Engine) resolvePlaceholders(ctx context.Context, expr string, dataByField map[string]any, selfValue any, cache *ReferenceCache) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(expr, func(whole string) string {
		if firstErr != nil {
			return whole
		}
		content := whole[1 : len(whole)-1]
		ph := classifyPlaceholder(content)
		val, err := e.resolveOne(ctx, ph, dataByField, selfValue, cache)
		if err != nil {
			firstErr = err
			return whole
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func (e *Engine) resolveOne(ctx context.Context, ph placeholder, dataByField map[string]any, selfValue any, cache *ReferenceCache) (string, error) {
	switch ph.kind {
	case phSelf:
		return literalText(selfValue), nil

	case phSibling:
		v, ok := dataByField[ph.field]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownField, ph.field)
		}
		return literalText(v), nil

	case phIngesterField:
		cacheKey := "snap:" + ph.ingester + "." + ph.field
		if v, ok := cache.Get(cacheKey); ok {
			return literalText(v), nil
		}
		if e.snapshots == nil {
			return "", fmt.Errorf("%w: no snapshot source configured", ErrUnknownIngester)
		}
		snap, ok, err := e.snapshots.GetSnapshot(ctx, ph.ingester)
		if err != nil {
			return "", err
		}
		var v any
		if ok {
			v = snap.Fields[ph.field]
		}
		cache.Set(cacheKey, v)
		return literalText(v), nil

	case phIngesterIdx:
		cacheKey := "idx:" + ph.ingester
		if v, ok := cache.Get(cacheKey); ok {
			return literalText(v), nil
		}
		if e.snapshots == nil {
			return "", fmt.Errorf("%w: no snapshot source configured", ErrUnknownIngester)
		}
		snap, ok, err := e.snapshots.GetSnapshot(ctx, ph.ingester)
		if err != nil {
			return "", err
		}
		var v any
		if ok {
			v = snap.Fields["idx"]
		}
		cache.Set(cacheKey, v)
		return literalJSONish(v), nil

	case phSeries:
		cacheKey := fmt.Sprintf("series:%s::%s(%s)", ph.target, ph.fn, ph.lookback)
		if v, ok := cache.Get(cacheKey); ok {
			return literalText(v), nil
		}
		result, err := e.evalSeriesPlaceholder(ctx, ph, dataByField)
		if err != nil {
			return "", err
		}
		cache.Set(cacheKey, result)
		return literalText(result), nil

	default:
		return "", fmt.Errorf("transform: unhandled placeholder kind")
	}
}

func (e *Engine) evalSeriesPlaceholder(ctx context.Context, ph placeholder, dataByField map[string]any) (any, error) {
	agg, ok := SeriesAggregators[ph.fn]
	if !ok {
		return nil, fmt.Errorf("transform: unknown series aggregator %q", ph.fn)
	}
	if !ph.lookback.Valid() {
		return nil, fmt.Errorf("transform: invalid lookback interval %q", ph.lookback)
	}
	if e.series == nil {
		return nil, fmt.Errorf("transform: no series source configured")
	}
	lookbackDur, err := ph.lookback.Duration()
	if err != nil {
		return nil, err
	}
	now := e.clock()
	from := now.Add(-lookbackDur)

	target := ph.target
	ingester := e.selfIngester
	field := target
	if target != "self" {
		// target may itself be "Ingester.field"; otherwise it's a field on
		// this ingester.
		if m := dottedPattern.FindStringSubmatch(target); m != nil {
			ingester = m[1]
			field = m[2]
		}
	} else {
		field = e.selfField
	}

	series, err := e.series.FetchSeries(ctx, ingester, field, from, now, e.selfInterval)
	if err != nil {
		return nil, err
	}
	result, err := agg(series)
	if err != nil {
		return nil, err
	}
	return CumsumLast(result), nil
}

func literalText(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return strconv.Quote(t)
	case bool:
		if t {
			return "True"
		}
		return "False"
	default:
		return asString(v)
	}
}

// literalJSONish renders {Ingester.idx} sub-documents as a dict literal the
// expression grammar can parse, since idx values are themselves maps.
func literalJSONish(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return literalText(v)
	}
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	for k, val := range m {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(strconv.Quote(k))
		sb.WriteByte(':')
		sb.WriteString(literalText(val))
	}
	sb.WriteByte('}')
	return sb.String()
}
