package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern   string
		candidate string
		matches   bool
	}{
		{"foo {bar} wibble", "foo 12345 wibble", true},
		{"foo {bar} wibble", "foo some words here wibble", true},
		// Nothing can exist before or after the pattern:
		{"foo {bar} wibble", "foo 12345 wibble no", false},
		{"foo {bar} wibble", "no foo 12345 wibble", false},
		// A capture matches whatever it can:
		{"{ anything }", "blah 123 -=12-090 :@~", true},
		{"{ anything }", "a", true},
		// A capture can't match nothing at all:
		{"{ anything }", "", false},
		// Multiple captures take the shortest expansion that works:
		{"{a}_{b}_c_{d}", "A_A_A_b_b_b_c_dDdDdD", true},
		{"{a}_{b}_c_{d}", "A_A_A_b_b_b_z_dDdDdD", false},
		// No placeholders means exact equality:
		{"secret_password", "secret_password", true},
		{"secret_password", "secret_passwords", false},
		{"secret_password", "secret_passwor", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, tt := range tests {
		tmpl, err := Parse(tt.pattern)
		require.NoError(t, err, "pattern %q", tt.pattern)
		_, ok := tmpl.Match(tt.candidate)
		assert.Equal(t, tt.matches, ok, "pattern %q vs %q", tt.pattern, tt.candidate)
	}
}

func TestMatchBindings(t *testing.T) {
	t.Parallel()

	tmpl, err := Parse("foo_{a}_{b}")
	require.NoError(t, err)

	b, ok := tmpl.Match("foo_1_2")
	require.True(t, ok)
	assert.Equal(t, Bindings{"a": "1", "b": "2"}, b)

	_, ok = tmpl.Match("other_bar_wibble")
	assert.False(t, ok)
}

func TestMatchBacktracking(t *testing.T) {
	t.Parallel()

	// The shortest capture for {a} ("x") leaves no '-' for the literal to
	// consume, so the matcher has to grow it.
	tmpl, err := Parse("{a}-end")
	require.NoError(t, err)

	b, ok := tmpl.Match("x-y-end")
	require.True(t, ok)
	assert.Equal(t, "x-y", b["a"])
}

func TestRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern  string
		bindings Bindings
		expected string
	}{
		{"foo_{bar}", Bindings{"bar": "hello"}, "foo_hello"},
		{"foo_{bar}", Bindings{"bar": "wibble"}, "foo_wibble"},
		{"foo_{ bar }", Bindings{"bar": "wibble"}, "foo_wibble"},
		{"{a}", Bindings{"a": "b"}, "b"},
		{"a", Bindings{"a": "b"}, "a"},
		{"{a},{b},{c}", Bindings{"a": "A", "b": "B", "c": "C"}, "A,B,C"},
	}

	for _, tt := range tests {
		tmpl, err := Parse(tt.pattern)
		require.NoError(t, err, "pattern %q", tt.pattern)
		actual, err := tmpl.Render(tt.bindings)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, actual, "pattern %q", tt.pattern)
	}
}

func TestRenderUnboundPlaceholder(t *testing.T) {
	t.Parallel()

	tmpl, err := Parse("{a},{b}")
	require.NoError(t, err)

	_, err = tmpl.Render(Bindings{"a": "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'b'")
}

func TestMatchRenderRoundTrip(t *testing.T) {
	t.Parallel()

	// Substituting bindings into a pattern and matching the result against
	// the same pattern recovers the original bindings, as long as the
	// bound values don't contain the pattern's literal separators.
	cases := []struct {
		pattern  string
		bindings Bindings
	}{
		{"foo_{a}_{b}", Bindings{"a": "1", "b": "2"}},
		{"{x}.suffix", Bindings{"x": "prefixvalue"}},
		{"a-{m}-b-{n}", Bindings{"m": "M", "n": "NNN"}},
	}

	for _, tt := range cases {
		tmpl, err := Parse(tt.pattern)
		require.NoError(t, err)

		rendered, err := tmpl.Render(tt.bindings)
		require.NoError(t, err)

		got, ok := tmpl.Match(rendered)
		require.True(t, ok, "pattern %q vs rendered %q", tt.pattern, rendered)
		assert.Equal(t, tt.bindings, got)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	_, err := Parse("{a}_{a}")
	assert.Error(t, err, "duplicate placeholder names are rejected")
}

func TestParseLiteralBraces(t *testing.T) {
	t.Parallel()

	// Invalid placeholder forms stay literal.
	for _, pattern := range []string{"{}", "{1abc}", "{a b}", "foo{", "foo}bar"} {
		tmpl, err := Parse(pattern)
		require.NoError(t, err, "pattern %q", pattern)
		assert.False(t, tmpl.HasPlaceholders(), "pattern %q", pattern)

		_, ok := tmpl.Match(pattern)
		assert.True(t, ok, "pattern %q should match itself literally", pattern)
	}
}

func TestParsePlaceholderAfterStrayBrace(t *testing.T) {
	t.Parallel()

	// The stray opening brace is literal, but the placeholder opening
	// inside the run is still found.
	tmpl, err := Parse("{a{b}")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, tmpl.Names())

	bindings, ok := tmpl.Match("{aX")
	require.True(t, ok)
	assert.Equal(t, "X", bindings["b"])
}

func TestCanRenderFrom(t *testing.T) {
	t.Parallel()

	env, err := Parse("SECRET_{b}_{a}")
	require.NoError(t, err)
	key, err := Parse("foo_{a}_{b}")
	require.NoError(t, err)
	partial, err := Parse("foo_{a}")
	require.NoError(t, err)

	assert.True(t, env.CanRenderFrom(key))
	assert.False(t, env.CanRenderFrom(partial))
	assert.True(t, partial.CanRenderFrom(key))
}

func TestNames(t *testing.T) {
	t.Parallel()

	tmpl, err := Parse("x{one}y{two}z")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, tmpl.Names())
	assert.True(t, tmpl.HasPlaceholders())
}
