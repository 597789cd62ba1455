package youtube

import "testing"

func TestParseISO8601Duration(t *testing.T) {
	cases := []struct {
		in   string
		want *int
	}{
		{"PT1H2M3S", intPtr(3723)},
		{"PT15M", intPtr(900)},
		{"PT45S", intPtr(45)},
		{"not-a-duration", nil},
	}
	for _, c := range cases {
		got := ParseISO8601Duration(c.in)
		if (got == nil) != (c.want == nil) {
			t.Errorf("ParseISO8601Duration(%q) = %v, want %v", c.in, got, c.want)
			continue
		}
		if got != nil && *got != *c.want {
			t.Errorf("ParseISO8601Duration(%q) = %d, want %d", c.in, *got, *c.want)
		}
	}
}

func intPtr(n int) *int { return &n }
