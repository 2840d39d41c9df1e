package logx

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPreview(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{in: "  short  ", max: 10, want: "short"},
		{in: "abcdef", max: 0, want: "abcdef"},
		{in: "abcdef", max: 3, want: "abc..."},
		{in: "héllo", max: 2, want: "h..."},
		{in: "日本語", max: 4, want: "日..."},
	}
	for _, tc := range cases {
		got := Preview(tc.in, tc.max)
		if got != tc.want {
			t.Fatalf("Preview(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("Preview(%q, %d) produced invalid utf-8", tc.in, tc.max)
		}
	}
	long := strings.Repeat("ö", 150)
	if got := Preview(long, 200); !utf8.ValidString(got) || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected preview %q", got)
	}
}
