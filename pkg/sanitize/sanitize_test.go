package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "leather bag", want: "leather bag"},
		{name: "tags stripped", in: "<b>red</b> <script>x</script>shoes", want: "red shoes"},
		{name: "whitespace collapsed", in: "  a \t\n b  ", want: "a b"},
		{name: "invalid utf8 dropped", in: "ok\xffay", want: "okay"},
		{name: "control chars dropped", in: "a\x00b", want: "ab"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "abc", Truncate("abc", 10))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "pa_color-2", Key(" PA_Color-2!"))
	assert.Equal(t, "", Key("<>"))
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Crème Brûlée Shop", want: "creme-brulee-shop"},
		{in: "  Dark  Blue ", want: "dark-blue"},
		{in: "L'Atelier #1", want: "l-atelier-1"},
		{in: "---", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.in))
		})
	}
}

func TestCSSValue(t *testing.T) {
	for _, ok := range []string{"20px", "1.5rem", "0", "auto", "#fff", "#A1B2C3", "rgba(0,0,0,0.1)", "0 2px 4px rgba(0, 0, 0, .1)", "50%"} {
		assert.True(t, CSSValue(ok), ok)
	}
	for _, bad := range []string{"", "expression(alert(1))", "url(x)", "10px; color:red", "red}"} {
		assert.False(t, CSSValue(bad), bad)
	}
}

func TestCSSClass(t *testing.T) {
	assert.Equal(t, "my-grid class-2col", CSSClass("my-grid 2col"))
	assert.Equal(t, "ab", CSSClass("<a\"b>"))
	assert.Equal(t, "", CSSClass("  "))
}
