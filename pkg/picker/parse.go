package picker

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	floatPattern = regexp.MustCompile(`([0-9]+(\.[0-9]+)?)`)
	intPattern   = regexp.MustCompile(`([0-9,]+)`)
	tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)
)

// safeFloat reads a number out of a JSON value that may be a number or a
// display string such as "$1,299.99".
func safeFloat(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		m := floatPattern.FindString(s)
		if m == "" {
			return 0
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func safeInt(v any) int {
	switch x := v.(type) {
	case nil:
		return 0
	case int:
		return x
	case float64:
		return int(x)
	case string:
		m := intPattern.FindString(x)
		if m == "" {
			return 0
		}
		n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func tokenize(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

func normRating(r float64) float64 {
	return math.Max(0, math.Min(5, r)) / 5
}

func normReviews(n int) float64 {
	return math.Log1p(float64(max(0, n))) / math.Log(10000+1)
}

// formatPrice renders a dollar amount with thousands separators.
func formatPrice(p float64) string {
	s := strconv.FormatFloat(p, 'f', 2, 64)
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return "$" + b.String() + "." + frac
}
