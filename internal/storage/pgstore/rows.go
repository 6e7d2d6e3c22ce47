package pgstore

import (
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"fluxgate/internal/model"
)

func scanRows(rs pgx.Rows) ([]map[string]any, error) {
	fields := rs.FieldDescriptions()
	var out []map[string]any
	for rs.Next() {
		vals, err := rs.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func scanRawRows(rs pgx.Rows, width int) ([][]any, error) {
	var out [][]any
	for rs.Next() {
		vals, err := rs.Values()
		if err != nil {
			return nil, err
		}
		if len(vals) != width {
			continue
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
		ts   time.Time
		vals map[string]any
	}
	buckets := make(map[int64]*bucketData)
	var order []int64

	for _, row := range raw {
		if len(row) == 0 || row[0] == nil {
			continue
		}
		t, ok := row[0].(time.Time)
		if !ok {
			continue
		}
		bucketStart, err := interval.BucketStart(t.UTC())
		if err != nil {
			continue
		}
		key := bucketStart.UnixMilli()
		b, exists := buckets[key]
		if !exists {
			b = &bucketData{ts: bucketStart, vals: make(map[string]any, len(cols))}
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
