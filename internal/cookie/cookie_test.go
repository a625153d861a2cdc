package cookie

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareNullFirst(t *testing.T) {
	others := []Cookie{
		FromString(""),
		FromString("a"),
		FromInt(0),
		FromInt(-5),
		MustParse(`{"order":0}`),
		MustParse(`{"order":""}`),
	}
	for _, c := range others {
		assert.Equal(t, -1, Compare(Null(), c), c.String())
		assert.Equal(t, 1, Compare(c, Null()), c.String())
	}
	assert.Equal(t, 0, Compare(Null(), Null()))
}

func TestCompareScalars(t *testing.T) {
	tests := []struct {
		name string
		a, b Cookie
		want int
	}{
		{"numbers", FromInt(1), FromInt(2), -1},
		{"numbers equal", FromInt(7), FromInt(7), 0},
		{"negative", FromInt(-3), FromInt(-10), 1},
		{"strings", FromString("a"), FromString("b"), -1},
		{"string prefix", FromString("ab"), FromString("abc"), -1},
		{"object order number", MustParse(`{"order":5,"v":1}`), FromInt(6), -1},
		{"object order string", MustParse(`{"order":"b"}`), FromString("a"), 1},
		{"objects same order differ elsewhere", MustParse(`{"order":1,"x":1}`), MustParse(`{"order":1,"x":2}`), 0},
		{"fraction", mustNumber(t, 1.5), FromInt(2), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.want, Compare(tt.b, tt.a))
		})
	}
}

func TestCompareMixedUsesStringOrder(t *testing.T) {
	// 9 < 10 numerically, but once a string is involved the number is
	// rendered and compared lexicographically.
	assert.Equal(t, -1, Compare(FromInt(9), FromInt(10)))
	assert.Equal(t, 1, Compare(FromString("9"), FromInt(10)))
	assert.Equal(t, 1, Compare(FromInt(9), FromString("10")))
	assert.Equal(t, 0, Compare(FromInt(5), FromString("5")))
	assert.Equal(t, 1, Compare(MustParse(`{"order":"9"}`), MustParse(`{"order":10}`)))
}

func TestCompareIsTotalPreorder(t *testing.T) {
	// Single-digit numbers keep numeric and string order aligned, so the
	// mixed set below is transitive.
	set := []Cookie{
		Null(),
		FromInt(1),
		FromInt(2),
		mustNumber(t, 3.5),
		FromString("1"),
		FromString("2"),
		FromString("a"),
		FromString("b"),
		MustParse(`{"order":2}`),
		MustParse(`{"order":"b","extra":[1,2]}`),
	}

	for _, a := range set {
		for _, b := range set {
			ab, ba := Compare(a, b), Compare(b, a)
			assert.Equal(t, -ab, ba, "antisymmetry %s %s", a, b)
			for _, c := range set {
				if ab <= 0 && Compare(b, c) <= 0 {
					assert.LessOrEqual(t, Compare(a, c), 0, "transitivity %s %s %s", a, b, c)
				}
			}
		}
	}
}

func TestParseAccepted(t *testing.T) {
	tests := []struct {
		input string
		kind  Kind
	}{
		{`null`, KindNull},
		{`"abc"`, KindString},
		{`42`, KindNumber},
		{`-1.25`, KindNumber},
		{`{"order":3}`, KindObject},
		{`{"order":"x","meta":{"a":[1]}}`, KindObject},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, c.Kind())
		})
	}
}

func TestParseRejected(t *testing.T) {
	for _, input := range []string{
		`true`,
		`[1]`,
		`{}`,
		`{"order":null}`,
		`{"order":true}`,
		`{"order":[1]}`,
		`{"ord`,
		`1 2`,
	} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse([]byte(input))
			require.Error(t, err)
			assert.True(t, IsInvalid(err))
		})
	}
}

func TestMarshalJSON(t *testing.T) {
	tests := []struct {
		cookie Cookie
		want   string
	}{
		{Null(), `null`},
		{FromString(`a"b`), `"a\"b"`},
		{FromInt(10), `10`},
		{mustNumber(t, 0.5), `0.5`},
		{mustNumber(t, 1e21), `1e+21`},
		{mustNumber(t, 1.5e-7), `1.5e-7`},
		{MustParse(`{"z":1,"order":2}`), `{"order":2,"z":1}`},
	}
	for _, tt := range tests {
		out, err := json.Marshal(tt.cookie)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(out))
	}
}

func TestUnmarshalJSONRoundTrip(t *testing.T) {
	var payload struct {
		Cookie Cookie `json:"cookie"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"cookie":{"order":"v2","shard":1}}`), &payload))
	assert.Equal(t, KindObject, payload.Cookie.Kind())
	assert.True(t, Equal(MustParse(`{"shard":1,"order":"v2"}`), payload.Cookie))

	err := json.Unmarshal([]byte(`{"cookie":false}`), &payload)
	assert.True(t, IsInvalid(err))
}

func TestFromGo(t *testing.T) {
	c, err := FromGo(map[string]any{"order": 4})
	require.NoError(t, err)
	assert.Equal(t, 0, Compare(c, FromInt(4)))

	_, err = FromGo([]any{1})
	assert.True(t, IsInvalid(err))
}

func TestFromNumberRejectsNonFinite(t *testing.T) {
	_, err := FromNumber(1 / zero())
	assert.True(t, IsInvalid(err))
}

func zero() float64 { return 0 }

func mustNumber(t *testing.T, f float64) Cookie {
	t.Helper()
	c, err := FromNumber(f)
	require.NoError(t, err)
	return c
}
