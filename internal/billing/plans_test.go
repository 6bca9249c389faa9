package billing

import "testing"

func TestBillableMinutes(t *testing.T) {
	cases := map[int]int{0: 0, -5: 0, 1: 1, 60: 1, 61: 2, 125: 3, 3600: 60}
	for in, want := range cases {
		if got := BillableMinutes(in); got != want {
			t.Fatalf("BillableMinutes(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCatalogLookup(t *testing.T) {
	p, ok := DefaultCatalog.Lookup(Tier1, IndustryLegal)
	if !ok || p.MinuteLimit != 150 || p.OverageRateMinor != 30 {
		t.Fatalf("unexpected legal tier1 plan %+v", p)
	}
	p, ok = DefaultCatalog.Lookup(Tier2, Industry("aerospace"))
	if !ok || p.MinuteLimit != 1000 {
		t.Fatalf("expected general fallback, got %+v", p)
	}
	p, ok = DefaultCatalog.Lookup(Tier3, IndustryHealthcare)
	if !ok || !p.Unlimited() {
		t.Fatalf("expected unlimited tier3, got %+v", p)
	}
	if _, ok := DefaultCatalog.Lookup(TierNone, IndustryGeneral); ok {
		t.Fatalf("expected no plan for tier none")
	}
}
