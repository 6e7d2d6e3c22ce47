package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// ResourceType is the persistence shape of an ingester's output.
type ResourceType string

const (
	ResourceValue      ResourceType = "value"
	ResourceSeries     ResourceType = "series"
	ResourceTimeseries ResourceType = "timeseries"
	ResourceUpdate     ResourceType = "update"
)

// IngesterType is the dispatch tag selecting which body implementation runs
// an ingester. The scheduler only ever sees the common Body contract (see
// internal/scheduler); IngesterType is carried for introspection/logging.
type IngesterType string

const (
	IngesterHTTPAPI      IngesterType = "http_api"
	IngesterWSAPI        IngesterType = "ws_api"
	IngesterEVMCaller    IngesterType = "evm_caller"
	IngesterEVMLogger    IngesterType = "evm_logger"
	IngesterSolanaCaller IngesterType = "solana_caller"
	IngesterSuiCaller    IngesterType = "sui_caller"
	IngesterProcessor    IngesterType = "processor"
)

// Ingester is an aggregate over fields: a configured data source that emits
// one row (timeseries) or one keyed record (update) per interval tick.
type Ingester struct {
	Name         string
	ResourceType ResourceType
	IngesterType IngesterType
	Interval     Interval
	Fields       []Field

	// Shared defaults inherited by fields that omit their own.
	DefaultTarget       string
	DefaultSelector     string
	DefaultParams       map[string]string
	DefaultTransformers []string

	Tags      []string
	Protected bool

	mu           sync.RWMutex
	lastIngested time.Time
}

// NewIngester validates and constructs an Ingester, adding the synthetic
// ts/uid fields required by the resource type invariants. Field defaults are
// not applied here.
func NewIngester(name string, resourceType ResourceType, ingesterType IngesterType, interval Interval, fields []Field) (*Ingester, error) {
	if name == "" {
		return nil, fmt.Errorf("ingester: name is required")
	}
	seen := make(map[string]bool, len(fields))
	resolved := make([]Field, 0, len(fields)+1)

	switch resourceType {
	case ResourceTimeseries:
		if !hasField(fields, "ts") {
			resolved = append(resolved, Field{Name: "ts", Type: TypeTimestamp})
			seen["ts"] = true
		}
	case ResourceUpdate:
		if !hasField(fields, "uid") {
			resolved = append(resolved, Field{Name: "uid", Type: TypeString})
			seen["uid"] = true
		}
	case ResourceValue, ResourceSeries:
		// no synthetic field required
	default:
		return nil, fmt.Errorf("ingester %s: unknown resource_type %q", name, resourceType)
	}

	for _, f := range fields {
		n := normalizeName(f.Name)
		if n == "" {
			return nil, fmt.Errorf("ingester %s: field with empty name", name)
		}
		if seen[n] {
			return nil, fmt.Errorf("ingester %s: duplicate field name %q", name, n)
		}
		if f.Type != "" && !ValidFieldTypes[f.Type] {
			return nil, fmt.Errorf("ingester %s: field %s has unknown type %q", name, n, f.Type)
		}
		seen[n] = true
		f.Name = n
		resolved = append(resolved, f)
	}

	return &Ingester{
		Name:         name,
		ResourceType: resourceType,
		IngesterType: ingesterType,
		Interval:     interval,
		Fields:       resolved,
	}, nil
}

func hasField(fields []Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// ID is a stable hash of the ingester's signature.
func (ing *Ingester) ID() string {
	h := sha256.New()
	fmt.Fprintf(h, "name=%s\x00resource=%s\x00interval=%s\x00", ing.Name, ing.ResourceType, ing.Interval)
	for _, f := range ing.Fields {
		fmt.Fprintf(h, "field=%s\x00", f.ID())
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Field looks up a field by name. Returns nil if not present.
func (ing *Ingester) Field(name string) *Field {
	for i := range ing.Fields {
		if ing.Fields[i].Name == name {
			return &ing.Fields[i]
		}
	}
	return nil
}

// PersistedFields returns the subset of fields that participate in
// persistence (transient=false), in declaration order. The timestamp column
// (timeseries) or uid column (update) is always first per spec.md §4.3.
func (ing *Ingester) PersistedFields() []Field {
	out := make([]Field, 0, len(ing.Fields))
	var primary *Field
	for i := range ing.Fields {
		f := &ing.Fields[i]
		if f.Transient {
			continue
		}
		if (ing.ResourceType == ResourceTimeseries && f.Name == "ts") ||
			(ing.ResourceType == ResourceUpdate && f.Name == "uid") {
			primary = f
			continue
		}
		out = append(out, *f)
	}
	if primary != nil {
		out = append([]Field{*primary}, out...)
	}
	return out
}

// LastIngested returns the bucket start of the most recently completed tick.
func (ing *Ingester) LastIngested() time.Time {
	ing.mu.RLock()
	defer ing.mu.RUnlock()
	return ing.lastIngested
}

// SetLastIngested records the bucket start of a completed tick. Only the
// owning scheduler tick may call this (single-writer invariant, spec.md §5).
func (ing *Ingester) SetLastIngested(t time.Time) {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	ing.lastIngested = t
}
