package transform

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// BaseTransformer is one Table T1 scalar transformer: it takes the current
// field value and returns the transformed value.
type BaseTransformer func(v any) (any, error)

// BaseTransformers is the fixed registry of bare-name transformers. It also
// forms part of the sandboxed evaluator's identifier namespace, so
// expressions may call lower(x) or round2(x) directly.
var BaseTransformers = withRoundN(map[string]BaseTransformer{
	"lower":      func(v any) (any, error) { return strings.ToLower(asString(v)), nil },
	"upper":      func(v any) (any, error) { return strings.ToUpper(asString(v)), nil },
	"capitalize": func(v any) (any, error) { return capitalize(asString(v)), nil },
	"title":      func(v any) (any, error) { return titleCase(asString(v)), nil },

	"int":   func(v any) (any, error) { return toInt(v) },
	"float": func(v any) (any, error) { return toFloat(v) },
	"str":   func(v any) (any, error) { return asString(v), nil },
	"bool":  func(v any) (any, error) { return toBool(v), nil },

	"to_json": func(v any) (any, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("to_json: %w", err)
		}
		return string(b), nil
	},

	"to_snake": func(v any) (any, error) { return joinTokens(tokenize(asString(v)), "_", strings.ToLower), nil },
	"to_kebab": func(v any) (any, error) { return joinTokens(tokenize(asString(v)), "-", strings.ToLower), nil },
	"slugify":  func(v any) (any, error) { return joinTokens(tokenize(asString(v)), "-", strings.ToLower), nil },
	"to_camel": func(v any) (any, error) { return toCamel(asString(v), false), nil },
	"to_pascal": func(v any) (any, error) { return toCamel(asString(v), true), nil },

	"strip":   func(v any) (any, error) { return strings.TrimSpace(asString(v)), nil },
	"reverse": func(v any) (any, error) { return reverseString(asString(v)), nil },

	"shorten_address": func(v any) (any, error) { return shortenAddress(asString(v)), nil },
	"remove_punctuation": func(v any) (any, error) {
		return removePunctuation(asString(v)), nil
	},

	"bin": func(v any) (any, error) {
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return strconv.FormatInt(n, 2), nil
	},
	"hex": func(v any) (any, error) {
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return strconv.FormatInt(n, 16), nil
	},

	"sha256digest": func(v any) (any, error) {
		sum := sha256.Sum256([]byte(asString(v)))
		return hex.EncodeToString(sum[:]), nil
	},
	"md5digest": func(v any) (any, error) {
		sum := md5.Sum([]byte(asString(v)))
		return hex.EncodeToString(sum[:]), nil
	},

	"round": func(v any) (any, error) { return roundN(v, 0) },
})

// withRoundN adds round2…round10 to m as part of BaseTransformers'
// initializer, so they exist before Namespace is built from the map.
func withRoundN(m map[string]BaseTransformer) map[string]BaseTransformer {
	for n := 2; n <= 10; n++ {
		n := n
		m[fmt.Sprintf("round%d", n)] = func(v any) (any, error) { return roundN(v, n) }
	}
	return m
}

func roundN(v any, n int) (any, error) {
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	scale := 1.0
	for i := 0; i < n; i++ {
		scale *= 10
	}
	return roundHalfAwayFromZero(f*scale) / scale, nil
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// tokenize splits on runs of non-alphanumeric characters and camelCase
// boundaries, the shared basis for to_snake/to_kebab/slugify/to_camel/to_pascal.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if i > 0 && unicode.IsUpper(r) && cur.Len() > 0 {
				prev := runes[i-1]
				if unicode.IsLower(prev) || unicode.IsDigit(prev) {
					flush()
				}
			}
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func joinTokens(tokens []string, sep string, xform func(string) string) string {
	for i, t := range tokens {
		tokens[i] = xform(t)
	}
	return strings.Join(tokens, sep)
}

func toCamel(s string, pascal bool) string {
	tokens := tokenize(s)
	var sb strings.Builder
	for i, t := range tokens {
		if i == 0 && !pascal {
			sb.WriteString(strings.ToLower(t))
			continue
		}
		sb.WriteString(capitalize(t))
	}
	return sb.String()
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func shortenAddress(s string) string {
	r := []rune(s)
	if len(r) <= 10 {
		return s
	}
	return string(r[:6]) + "…" + string(r[len(r)-4:])
}

func removePunctuation(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
