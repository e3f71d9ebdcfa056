package expr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() Scope {
	return MapScope{
		"status":   "Active",
		"count":    float64(7),
		"enabled":  true,
		"empty":    "",
		"customer": map[string]any{"tier": "gold", "age": json.Number("42")},
		"items":    []any{map[string]any{"name": "first"}, "second"},
	}
}

func TestEvalBool(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"string equality is case-insensitive", `{{status}} == "active"`, true},
		{"bare word", `{{status}} == active`, true},
		{"not equal", `{{status}} != inactive`, true},
		{"numeric greater", `{{count}} > 5`, true},
		{"numeric less or equal", `{{count}} <= 6`, false},
		{"json number", `{{customer.age}} >= 42`, true},
		{"nested path", `{{customer.tier}} == 'gold'`, true},
		{"array index", `{{items.0.name}} == first`, true},
		{"and short-circuits", `{{enabled}} && {{count}} > 10`, false},
		{"or", `{{empty}} || {{enabled}}`, true},
		{"not", `!{{empty}}`, true},
		{"mixed operators group left to right", `{{enabled}} || {{empty}} && {{empty}}`, false},
		{"and then or", `{{empty}} && {{enabled}} || {{enabled}}`, true},
		{"parentheses", `({{count}} > 10 || {{status}} == active) && {{enabled}}`, true},
		{"missing field is falsy", `{{nope}}`, false},
		{"missing field never compares", `{{nope}} > 1`, false},
		{"null literal", `{{nope}} == null`, true},
		{"boolean literal", `{{enabled}} == true`, true},
		{"numeric string", `"10" > 9`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalBool(tt.src, testScope())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"{{a}} ==",
		"({{a}}",
		"{{a",
		`"open`,
		"{{a}} = 1",
		"{{a}} & {{b}}",
		"{{}}",
		"1 2",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			var syn *SyntaxError
			assert.ErrorAs(t, err, &syn)
		})
	}
}

func TestParseString(t *testing.T) {
	n, err := Parse(`!{{a}} || {{b}} == 2`)
	require.NoError(t, err)
	assert.Equal(t, `(!{{a}} || ({{b}} == 2))`, n.String())

	n, err = Parse(`{{a}} || {{b}} && {{c}}`)
	require.NoError(t, err)
	assert.Equal(t, `(({{a}} || {{b}}) && {{c}})`, n.String())
}

func TestResolve(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": []any{1, 2, 3}},
	}

	v, ok := Resolve(data, "a.b.2")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = Resolve(data, "a.b.9")
	assert.False(t, ok)

	_, ok = Resolve(data, "a.c")
	assert.False(t, ok)

	v, ok = Resolve(data, "")
	assert.True(t, ok)
	assert.Equal(t, data, v)
}

func TestChainScope(t *testing.T) {
	s := ChainScope{nil, MapScope{"a": 1}, MapScope{"a": 2, "b": 3}}

	v, ok := s.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = s.Lookup("b")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = s.Lookup("c")
	assert.False(t, ok)
}

func TestRender(t *testing.T) {
	s := testScope()

	assert.Equal(t, "Hello gold member", Render("Hello {{ customer.tier }} member", s))
	assert.Equal(t, "count=7 missing=", Render("count={{count}} missing={{nope}}", s))
	assert.Equal(t, "plain", Render("plain", s))
}

func TestRenderValue(t *testing.T) {
	s := testScope()

	assert.Equal(t, float64(7), RenderValue("{{count}}", s))
	assert.Equal(t, "n=7", RenderValue("n={{count}}", s))
	assert.Nil(t, RenderValue("{{nope}}", s))

	got := RenderValue(map[string]any{
		"tier":  "{{customer.tier}}",
		"list":  []any{"{{status}}", 5},
		"fixed": true,
	}, s)
	assert.Equal(t, map[string]any{
		"tier":  "gold",
		"list":  []any{"Active", 5},
		"fixed": true,
	}, got)
}

func TestToFloat64(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(1.5), 1.5, true},
		{int(3), 3, true},
		{int64(4), 4, true},
		{json.Number("2.5"), 2.5, true},
		{" 12 ", 12, true},
		{"abc", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat64(tt.in)
		assert.Equal(t, tt.ok, ok, "%#v", tt.in)
		assert.Equal(t, tt.want, got, "%#v", tt.in)
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy("false"))
	assert.False(t, Truthy("0"))
	assert.False(t, Truthy(float64(0)))
	assert.False(t, Truthy([]any{}))
	assert.True(t, Truthy("yes"))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy(map[string]any{"a": 1}))
}
