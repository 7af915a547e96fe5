package migration

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

// Converter turns a source value into its target representation.
type Converter func(v interface{}) (interface{}, error)

// The primitive set is closed; mappings refer to entries by name.
var primitives = map[string]Converter{
	"toDate":      toDate,
	"toDecimal":   toDecimal,
	"toInteger":   toInteger,
	"toUpperCase": toUpperCase,
	"boolYN":      boolYN,
	"padLeft6":    padLeft(6),
	"padLeft10":   padLeft(10),
	"padLeft12":   padLeft(12),
	"padLeft40":   padLeft(40),
}

// Primitives returns the names of the convert primitives, sorted.
func Primitives() []string {
	names := make([]string, 0, len(primitives))
	for name := range primitives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupPrimitive returns the converter registered under name.
func LookupPrimitive(name string) (Converter, bool) {
	c, ok := primitives[name]
	return c, ok
}

// stringify renders scalar values the way they appear in source extracts.
func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func isEmpty(v interface{}) bool {
	return strings.TrimSpace(stringify(v)) == ""
}

// toDate converts YYYYMMDD to an ISO date. ISO input passes through; blank and
// all-zero dates become empty.
func toDate(v interface{}) (interface{}, error) {
	s := strings.TrimSpace(stringify(v))
	if s == "" || strings.Trim(s, "0") == "" {
		return "", nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("2006-01-02"), nil
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return nil, errors.Newf("invalid date %q", s)
	}
	return t.Format("2006-01-02"), nil
}

// numeric normalises thousands separators and a trailing minus sign.
func numeric(v interface{}) (string, bool) {
	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return "", false
	}
	s = strings.ReplaceAll(s, ",", "")
	if strings.HasSuffix(s, "-") {
		s = "-" + strings.TrimSuffix(s, "-")
	}
	return s, true
}

// float64 holds 15 significant decimal digits exactly.
const maxFloatDigits = 15

// toDecimal returns a float64, or a canonical json.Number when the amount has
// more significant digits than a float64 keeps.
func toDecimal(v interface{}) (interface{}, error) {
	s, ok := numeric(v)
	if !ok {
		return "", nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.Newf("invalid decimal %q", stringify(v))
	}
	if n, digits, ok := canonicalDecimal(s); ok && digits > maxFloatDigits {
		return n, nil
	}
	return f, nil
}

// canonicalDecimal normalises a plain [-]digits[.digits] literal: no leading
// zeros in the integer part, no trailing zeros in the fraction. Exponent
// forms are not handled.
func canonicalDecimal(s string) (json.Number, int, bool) {
	sign := ""
	switch {
	case strings.HasPrefix(s, "-"):
		sign, s = "-", s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	if strings.Trim(intPart+frac, "0123456789") != "" || intPart+frac == "" {
		return "", 0, false
	}
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	frac = strings.TrimRight(frac, "0")

	digits := len(strings.TrimLeft(strings.TrimLeft(intPart, "0")+frac, "0"))
	n := sign + intPart
	if frac != "" {
		n += "." + frac
	}
	return json.Number(n), digits, true
}

func toInteger(v interface{}) (interface{}, error) {
	s, ok := numeric(v)
	if !ok {
		return "", nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return nil, errors.Newf("invalid integer %q", stringify(v))
	}
	return int64(f), nil
}

func toUpperCase(v interface{}) (interface{}, error) {
	return strings.ToUpper(stringify(v)), nil
}

func boolYN(v interface{}) (interface{}, error) {
	truthy := false
	switch x := v.(type) {
	case bool:
		truthy = x
	default:
		switch strings.ToUpper(strings.TrimSpace(stringify(v))) {
		case "", "0", "N", "NO", "FALSE", "F":
		default:
			truthy = true
		}
	}
	if truthy {
		return "X", nil
	}
	return "", nil
}

func padLeft(width int) Converter {
	return func(v interface{}) (interface{}, error) {
		s := strings.TrimSpace(stringify(v))
		if s == "" || len(s) >= width {
			return s, nil
		}
		return strings.Repeat("0", width-len(s)) + s, nil
	}
}
