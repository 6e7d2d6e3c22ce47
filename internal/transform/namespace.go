package transform

import (
	"fmt"
	"math"
)

// Func is a whitelisted callable in the sandboxed evaluator's namespace.
type Func func(args []any) (any, error)

// Namespace is the fixed identifier table available inside safe_eval:
// math functions and every base transformer (so expressions may call
// lower(x) or round2(x) directly per spec.md §4.2.3). It has no date or
// time helpers.
var Namespace = buildNamespace()

// Constants is the whitelist of bare identifiers that resolve to values
// rather than being called.
var Constants = map[string]any{
	"pi": math.Pi,
	"e":  math.E,
}

func buildNamespace() map[string]Func {
	ns := map[string]Func{
		"abs":   func(a []any) (any, error) { return unary1(a, math.Abs) },
		"sqrt":  func(a []any) (any, error) { return unary1(a, math.Sqrt) },
		"floor": func(a []any) (any, error) { return unary1(a, math.Floor) },
		"ceil":  func(a []any) (any, error) { return unary1(a, math.Ceil) },
		"exp":   func(a []any) (any, error) { return unary1(a, math.Exp) },
		"log": func(a []any) (any, error) {
			if len(a) == 1 {
				return unary1(a, math.Log)
			}
			if len(a) == 2 {
				x, err := toFloat(a[0])
				if err != nil {
					return nil, err
				}
				base, err := toFloat(a[1])
				if err != nil {
					return nil, err
				}
				return math.Log(x) / math.Log(base), nil
			}
			return nil, fmt.Errorf("%w: log takes 1 or 2 arguments", ErrWrongArgCount)
		},
		"pow": func(a []any) (any, error) {
			if len(a) != 2 {
				return nil, fmt.Errorf("%w: pow takes 2 arguments", ErrWrongArgCount)
			}
			x, err := toFloat(a[0])
			if err != nil {
				return nil, err
			}
			y, err := toFloat(a[1])
			if err != nil {
				return nil, err
			}
			return math.Pow(x, y), nil
		},
		"round": func(a []any) (any, error) {
			if len(a) < 1 || len(a) > 2 {
				return nil, fmt.Errorf("%w: round takes 1 or 2 arguments", ErrWrongArgCount)
			}
			n := 0
			if len(a) == 2 {
				ni, err := toInt64(a[1])
				if err != nil {
					return nil, err
				}
				n = int(ni)
			}
			return roundN(a[0], n)
		},
		"min": func(a []any) (any, error) { return minMax(a, false) },
		"max": func(a []any) (any, error) { return minMax(a, true) },
		"sum": func(a []any) (any, error) {
			s, err := anyToFloatSlice(a)
			if err != nil {
				return nil, err
			}
			return sum(s), nil
		},
		"len": func(a []any) (any, error) {
			if len(a) != 1 {
				return nil, fmt.Errorf("%w: len takes 1 argument", ErrWrongArgCount)
			}
			switch v := a[0].(type) {
			case string:
				return float64(len([]rune(v))), nil
			case []any:
				return float64(len(v)), nil
			case []float64:
				return float64(len(v)), nil
			case map[any]any:
				return float64(len(v)), nil
			default:
				return nil, fmt.Errorf("transform: len() unsupported for %T", v)
			}
		},
	}
	mathNames := make(map[string]bool, len(ns))
	for name := range ns {
		mathNames[name] = true
	}
	// Base transformers fill in every name the math functions above didn't
	// already claim (round/min/max/sum/len take richer signatures here).
	for name, fn := range BaseTransformers {
		if mathNames[name] {
			continue
		}
		fn := fn
		ns[name] = func(a []any) (any, error) {
			if len(a) != 1 {
				return nil, fmt.Errorf("%w: %s takes 1 argument", ErrWrongArgCount, name)
			}
			return fn(a[0])
		}
	}
	return ns
}

func unary1(a []any, f func(float64) float64) (any, error) {
	if len(a) != 1 {
		return nil, fmt.Errorf("%w: expected 1 argument", ErrWrongArgCount)
	}
	x, err := toFloat(a[0])
	if err != nil {
		return nil, err
	}
	return f(x), nil
}

func minMax(a []any, wantMax bool) (any, error) {
	// min/max accept either varargs or a single list argument, matching the
	// common built-in calling convention used throughout expressions.
	var vals []any
	if len(a) == 1 {
		if list, ok := a[0].([]any); ok {
			vals = list
		} else {
			vals = a
		}
	} else {
		vals = a
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("transform: min/max requires at least one value")
	}
	best, err := toFloat(vals[0])
	if err != nil {
		return nil, err
	}
	for _, v := range vals[1:] {
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if (wantMax && f > best) || (!wantMax && f < best) {
			best = f
		}
	}
	return best, nil
}

func anyToFloatSlice(a []any) ([]float64, error) {
	src := a
	if len(a) == 1 {
		if list, ok := a[0].([]any); ok {
			src = list
		}
	}
	out := make([]float64, len(src))
	for i, v := range src {
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
