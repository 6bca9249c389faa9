package calls

import (
	"context"
	"errors"
	"testing"
)

func intPtr(n int) *int { return &n }

func TestMemoryStore_RedeliveryIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	in := UpsertInput{
		TenantID:        "t1",
		ProviderCallID:  "call-1",
		Direction:       DirectionInbound,
		FromNumber:      "+15551234567",
		ToNumber:        "+15557654321",
		Status:          StatusCompleted,
		DurationSeconds: intPtr(125),
		Summary:         "wants a quote",
	}

	first, created, err := s.Upsert(ctx, in)
	if err != nil || !created {
		t.Fatalf("expected created, got created=%v err=%v", created, err)
	}
	second, created, err := s.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if created {
		t.Fatalf("expected redelivery to update, not create")
	}
	if s.Len() != 1 {
		t.Fatalf("expected one row, got %d", s.Len())
	}
	if first.ID != second.ID || second.DurationSeconds != 125 || second.Summary != "wants a quote" {
		t.Fatalf("expected identical values, got %+v vs %+v", first, second)
	}
}

func TestMemoryStore_PartialEventKeepsKnownFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, UpsertInput{
		TenantID: "t1", ProviderCallID: "c", Direction: DirectionOutbound,
		Status: StatusCompleted, DurationSeconds: intPtr(60), RecordingURL: "https://rec/1",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _, err := s.Upsert(ctx, UpsertInput{
		TenantID: "t1", ProviderCallID: "c", Direction: DirectionOutbound,
		Status: StatusCompleted, Transcript: "hello",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.DurationSeconds != 60 || got.RecordingURL != "https://rec/1" || got.Transcript != "hello" {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}

func TestMemoryStore_InboundMarkerUpgradesDirection(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, UpsertInput{
		TenantID: "t1", ProviderCallID: "c", Direction: DirectionOutbound, Status: StatusAnswered,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _, err := s.Upsert(ctx, UpsertInput{
		TenantID: "t1", ProviderCallID: "c", Direction: DirectionInbound, Status: StatusCompleted,
		FromNumber: "+15559990000", ToNumber: "+15557654321",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Direction != DirectionInbound {
		t.Fatalf("expected inbound after marker, got %s", got.Direction)
	}

	got, _, err = s.Upsert(ctx, UpsertInput{
		TenantID: "t1", ProviderCallID: "c", Direction: DirectionOutbound, Status: StatusCompleted,
	})
	if err != nil {
		t.Fatalf("late update: %v", err)
	}
	if got.Direction != DirectionInbound {
		t.Fatalf("inbound must not be downgraded, got %s", got.Direction)
	}
}

func TestMemoryStore_RejectsCrossTenantReuse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := UpsertInput{TenantID: "t1", ProviderCallID: "c", Direction: DirectionInbound, Status: StatusRinging}
	if _, _, err := s.Upsert(ctx, base); err != nil {
		t.Fatalf("insert: %v", err)
	}
	base.TenantID = "t2"
	if _, _, err := s.Upsert(ctx, base); !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("expected ErrTenantMismatch, got %v", err)
	}
}

func TestMemoryStore_LinkLead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c, _, _ := s.Upsert(ctx, UpsertInput{TenantID: "t1", ProviderCallID: "c", Direction: DirectionInbound, Status: StatusRinging})

	if err := s.LinkLead(ctx, "t2", c.ID, "lead-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected tenant-scoped link to fail, got %v", err)
	}
	if err := s.LinkLead(ctx, "t1", c.ID, "lead-1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	got, err := s.Get(ctx, "t1", c.ID)
	if err != nil || got.LeadID != "lead-1" {
		t.Fatalf("expected lead linked, got %+v err=%v", got, err)
	}
}

func TestUpsertInput_Validation(t *testing.T) {
	s := NewMemoryStore()
	bad := []UpsertInput{
		{ProviderCallID: "c", Direction: DirectionInbound, Status: StatusRinging},
		{TenantID: "t", Direction: DirectionInbound, Status: StatusRinging},
		{TenantID: "t", ProviderCallID: "c", Direction: "sideways", Status: StatusRinging},
		{TenantID: "t", ProviderCallID: "c", Direction: DirectionInbound, Status: StatusRinging, DurationSeconds: intPtr(-1)},
	}
	for i, in := range bad {
		if _, _, err := s.Upsert(context.Background(), in); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("case %d: expected ErrInvalidArgument, got %v", i, err)
		}
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusVoicemail} {
		if !s.IsTerminal() {
			t.Fatalf("expected %s terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRinging, StatusAnswered} {
		if s.IsTerminal() {
			t.Fatalf("expected %s non-terminal", s)
		}
	}
}

func TestCanonicalOutcome(t *testing.T) {
	cases := map[string]string{
		"Interested":         OutcomeInterested,
		"call-back":          OutcomeCallback,
		"Not Interested":     OutcomeNotInterested,
		"appointment_booked": OutcomeBooked,
		"":                   "",
		"maybe":              "",
	}
	for in, want := range cases {
		if got := CanonicalOutcome(in); got != want {
			t.Fatalf("CanonicalOutcome(%q) = %q, want %q", in, got, want)
		}
	}
}
