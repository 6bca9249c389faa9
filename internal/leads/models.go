package leads

import (
	"errors"
	"time"
)

// Lead is a prospective customer of a tenant, keyed by (tenant, phone).
//
// Invariants:
// - At most one lead per (TenantID, Phone) when Phone is known.
// - Score is always within [0, 100].
type Lead struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Phone    string `json:"phone" db:"phone"`

	// Filled progressively; empty until known.
	Name    string `json:"name,omitempty" db:"name"`
	Email   string `json:"email,omitempty" db:"email"`
	Address string `json:"address,omitempty" db:"address"`

	Status       Status         `json:"status" db:"status"`
	Score        int            `json:"score" db:"score"`
	ScoreFactors map[string]int `json:"score_factors,omitempty" db:"score_factors"`
	Tags         []string       `json:"tags,omitempty" db:"tags"`
	Source       Source         `json:"source" db:"source"`

	// Notes carries the summary of the most recent call.
	Notes         string     `json:"notes,omitempty" db:"notes"`
	LastCallID    string     `json:"last_call_id,omitempty" db:"last_call_id"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty" db:"last_contact_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusNew           Status = "new"
	StatusInterested    Status = "interested"
	StatusNotInterested Status = "not_interested"
	StatusCallBack      Status = "call_back"
	StatusBooked        Status = "booked"
	StatusCustomer      Status = "customer"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInterested, StatusNotInterested, StatusCallBack, StatusBooked, StatusCustomer:
		return true
	default:
		return false
	}
}

type Source string

const (
	SourceInbound  Source = "inbound"
	SourceOutbound Source = "outbound"
	SourceManual   Source = "manual"
)

// Contact is what one call tells us about a lead.
type Contact struct {
	CallID string
	// Notes replaces the stored notes when non-empty.
	Notes string
	At    time.Time
}

var (
	ErrNotFound        = errors.New("leads: not found")
	ErrInvalidArgument = errors.New("leads: invalid argument")
	// ErrLeadExists is a (tenant, phone) unique violation on insert.
	ErrLeadExists = errors.New("leads: lead already exists")
)

const (
	MinScore  = 0
	MaxScore  = 100
	BaseScore = 50
)
