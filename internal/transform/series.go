package transform

import (
	"fmt"
	"math"
	"sort"
)

// SeriesAggregator is one Table T2 series function: it reduces a loaded
// numeric window to either a scalar or, for cumsum, a vector whose last
// element is substituted into the expression.
type SeriesAggregator func(series []float64) (any, error)

var SeriesAggregators = map[string]SeriesAggregator{
	"median": func(s []float64) (any, error) { return median(s), nil },
	"mean":   func(s []float64) (any, error) { return mean(s), nil },
	"std":    func(s []float64) (any, error) { return math.Sqrt(variance(s)), nil },
	"var":    func(s []float64) (any, error) { return variance(s), nil },
	"min": func(s []float64) (any, error) {
		if len(s) == 0 {
			return nil, fmt.Errorf("transform: min of empty series")
		}
		m := s[0]
		for _, v := range s[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	},
	"max": func(s []float64) (any, error) {
		if len(s) == 0 {
			return nil, fmt.Errorf("transform: max of empty series")
		}
		m := s[0]
		for _, v := range s[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	},
	"sum": func(s []float64) (any, error) { return sum(s), nil },
	"cumsum": func(s []float64) (any, error) {
		out := make([]float64, len(s))
		running := 0.0
		for i, v := range s {
			running += v
			out[i] = running
		}
		return out, nil
	},
	"prod": func(s []float64) (any, error) {
		p := 1.0
		for _, v := range s {
			p *= v
		}
		return p, nil
	},
}

// CumsumLast returns the substitution value for a series aggregator result:
// cumsum yields a vector, and only its last element is substituted into the
// expression per spec.md §4.2's series-transformer algorithm.
func CumsumLast(v any) any {
	if s, ok := v.([]float64); ok {
		if len(s) == 0 {
			return 0.0
		}
		return s[len(s)-1]
	}
	return v
}

func sum(s []float64) float64 {
	total := 0.0
	for _, v := range s {
		total += v
	}
	return total
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return sum(s) / float64(len(s))
}

func variance(s []float64) float64 {
	if len(s) < 2 {
		return 0
	}
	m := mean(s)
	var acc float64
	for _, v := range s {
		d := v - m
		acc += d * d
	}
	return acc / float64(len(s)-1)
}

func median(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	sorted := append([]float64(nil), s...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
