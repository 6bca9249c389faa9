package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	cases := map[string]string{
		"+15551234567":     "+15551234567",
		"5551234567":       "+15551234567",
		"15551234567":      "+15551234567",
		"(555) 123-4567":   "+15551234567",
		"+1 555 123 4567":  "+15551234567",
		"(415) 555-2671":   "+14155552671",
		"+44 20 7946 0958": "+442079460958",
		"anonymous":        "anonymous",
		"   ":              "",
	}
	for in, want := range cases {
		if got := NormalizeE164(in); got != want {
			t.Fatalf("NormalizeE164(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestIsDialable(t *testing.T) {
	if !IsDialable("+15551234567") {
		t.Fatalf("expected e164 number to be dialable")
	}
	for _, s := range []string{"", "anonymous", "5551234567", "+1555", "+1555abc4567"} {
		if IsDialable(s) {
			t.Fatalf("expected %q not to be dialable", s)
		}
	}
}
