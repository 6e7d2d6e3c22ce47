package sqlitestore

import (
	"database/sql"
	"sort"
	"time"

	"fluxgate/internal/model"
)

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// scanRows reads every row of rs into a name->value map, using the driver's
// own column names.
func scanRows(rs *sql.Rows) ([]map[string]any, error) {
	names, err := rs.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rs.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(names))
		for i, n := range names {
			row[n] = vals[i]
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

// scanRawRows reads every row of rs as a positional []any, in the given
// column order (used when the caller already knows the select list).
func scanRawRows(rs *sql.Rows, names []string) ([][]any, error) {
	var out [][]any
	for rs.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rs.Err()
}

// bucketRows groups raw (ts, col...) rows into interval-width buckets,
// keeping the last non-null value per column per bucket (or the first, if
// useFirst is set), per the Fetch aggregation rule.
func bucketRows(raw [][]any, tsCol string, cols []string, interval model.Interval, useFirst bool) ([]string, [][]any) {
	type bucketData struct {
		ts   int64
		vals map[string]any
	}
	buckets := make(map[int64]*bucketData)
	var order []int64

	for _, row := range raw {
		if len(row) == 0 || row[0] == nil {
			continue
		}
		ms, ok := toInt64Val(row[0])
		if !ok {
			continue
		}
		t := msToTime(ms)
		bucketStart, err := interval.BucketStart(t)
		if err != nil {
			continue
		}
		key := bucketStart.UnixMilli()
		b, exists := buckets[key]
		if !exists {
			b = &bucketData{ts: key, vals: make(map[string]any, len(cols))}
			buckets[key] = b
			order = append(order, key)
		}
		for i, c := range cols {
			v := row[i+1]
			if v == nil {
				continue
			}
			if useFirst {
				if _, has := b.vals[c]; !has {
					b.vals[c] = v
				}
			} else {
				b.vals[c] = v
			}
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	outCols := append([]string{tsCol}, cols...)
	outRows := make([][]any, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		row := make([]any, len(outCols))
		row[0] = b.ts
		for i, c := range cols {
			row[i+1] = b.vals[c]
		}
		outRows = append(outRows, row)
	}
	return outCols, outRows
}

func toInt64Val(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}
