// Package cookie implements the total order over sync-progress markers
// ("cookies") that decides which of two snapshots is newer.
//
// A cookie is null, a string, a number, or an object carrying an "order"
// field that is a string or a number. Null sorts before everything. For
// non-null cookies the effective value (the order field, or the scalar
// itself) is compared: if either side is a string both are compared as
// strings, numbers being rendered the way JavaScript renders them;
// otherwise they are compared numerically. Mixed comparisons therefore
// order "9" after "10". Servers rely on this, so it is kept as is.
package cookie

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/replica/internal/ir"
)

// Kind discriminates cookie shapes.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Cookie is an immutable sync-progress marker. The zero value is the null
// cookie.
type Cookie struct {
	kind Kind

	// str holds a string cookie, or an object cookie's string order.
	str string
	// num holds a number cookie, or an object cookie's numeric order.
	num float64
	// orderIsString is set for object cookies whose order is a string.
	orderIsString bool
	// raw is the JSON text of an object cookie, keys sorted.
	raw string
}

// Null returns the null cookie.
func Null() Cookie { return Cookie{} }

// FromString returns a string cookie.
func FromString(s string) Cookie { return Cookie{kind: KindString, str: s} }

// FromInt returns a number cookie.
func FromInt(n int64) Cookie { return Cookie{kind: KindNumber, num: float64(n)} }

// FromNumber returns a number cookie. NaN and infinities are rejected.
func FromNumber(f float64) (Cookie, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Cookie{}, &InvalidCookieError{Reason: fmt.Sprintf("number %v is not finite", f)}
	}
	return Cookie{kind: KindNumber, num: f}, nil
}

// Kind returns the cookie's shape.
func (c Cookie) Kind() Kind { return c.kind }

// IsNull reports whether c is the null cookie.
func (c Cookie) IsNull() bool { return c.kind == KindNull }

// Compare returns -1, 0 or +1 as a sorts before, equal to, or after b.
func Compare(a, b Cookie) int {
	if Equal(a, b) {
		return 0
	}
	if a.kind == KindNull {
		return -1
	}
	if b.kind == KindNull {
		return 1
	}

	if a.effectiveIsString() || b.effectiveIsString() {
		return ir.CompareUTF16(a.effectiveString(), b.effectiveString())
	}

	d := a.num - b.num
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	}
	return 0
}

// Equal reports deep equality: same shape and same content.
func Equal(a, b Cookie) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindString:
		return a.str == b.str
	case KindNumber:
		return a.num == b.num
	case KindObject:
		return a.raw == b.raw
	}
	return false
}

func (c Cookie) effectiveIsString() bool {
	return c.kind == KindString || (c.kind == KindObject && c.orderIsString)
}

func (c Cookie) effectiveString() string {
	if c.effectiveIsString() {
		return c.str
	}
	return formatNumber(c.num)
}

// Parse decodes and validates a cookie from its wire form. Anything other
// than null, a string, a finite number, or an object with a string or
// numeric "order" fails with *InvalidCookieError.
func Parse(data []byte) (Cookie, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Cookie{}, &InvalidCookieError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if dec.More() {
		return Cookie{}, &InvalidCookieError{Reason: "trailing data after cookie"}
	}
	return FromGo(raw)
}

// MustParse is like Parse but panics on error. Use only in tests.
func MustParse(s string) Cookie {
	c, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return c
}

// FromGo validates decoded Go data (encoding/json with UseNumber, yaml.v3)
// as a cookie.
func FromGo(v any) (Cookie, error) {
	switch val := v.(type) {
	case nil:
		return Null(), nil
	case string:
		return FromString(val), nil
	case int:
		return FromInt(int64(val)), nil
	case int64:
		return FromInt(val), nil
	case float64:
		return FromNumber(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Cookie{}, &InvalidCookieError{Reason: fmt.Sprintf("number %s: %v", val, err)}
		}
		return FromNumber(f)
	case map[string]any:
		return fromObject(val)
	default:
		return Cookie{}, &InvalidCookieError{Reason: fmt.Sprintf("unsupported cookie type %T", v)}
	}
}

func fromObject(m map[string]any) (Cookie, error) {
	order, ok := m["order"]
	if !ok {
		return Cookie{}, &InvalidCookieError{Reason: `object cookie has no "order" field`}
	}

	c := Cookie{kind: KindObject}
	switch o := order.(type) {
	case string:
		c.str = o
		c.orderIsString = true
	default:
		num, err := FromGo(o)
		if err != nil || num.kind != KindNumber {
			return Cookie{}, &InvalidCookieError{Reason: `"order" must be a string or a number`}
		}
		c.num = num.num
	}

	// encoding/json sorts map keys and keeps json.Number text verbatim,
	// so equal objects produce equal raw text.
	raw, err := json.Marshal(m)
	if err != nil {
		return Cookie{}, &InvalidCookieError{Reason: fmt.Sprintf("encode object: %v", err)}
	}
	c.raw = string(raw)
	return c, nil
}

// MarshalJSON implements json.Marshaler.
func (c Cookie) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(c.str)
	case KindNumber:
		return []byte(formatNumber(c.num)), nil
	case KindObject:
		return []byte(c.raw), nil
	}
	return nil, fmt.Errorf("marshal cookie: unknown kind %d", c.kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Cookie) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// String returns the cookie's JSON text.
func (c Cookie) String() string {
	b, err := c.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}

// formatNumber renders f the way JavaScript's Number#toString does for
// finite values: plain decimal in [1e-6, 1e21), exponent form outside.
func formatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
