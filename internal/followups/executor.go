package followups

import (
	"context"
	"fmt"

	"voiceagent-platform/internal/leads"
	"voiceagent-platform/internal/notify"
)

// LeadLookup reads the contact a follow-up is addressed to.
type LeadLookup interface {
	Get(ctx context.Context, tenantID, id string) (leads.Lead, error)
}

// Executor performs a due follow-up: email goes out over SMTP, calls and
// SMS are handed to the outreach dispatcher.
type Executor struct {
	rules    Repository
	leads    LeadLookup
	mailer   notify.Mailer
	outreach notify.Outreach
}

func NewExecutor(rules Repository, lookup LeadLookup, mailer notify.Mailer, outreach notify.Outreach) *Executor {
	return &Executor{rules: rules, leads: lookup, mailer: mailer, outreach: outreach}
}

const defaultEmailSubject = "Following up on your call"

// Execute returns a short result stored on the follow-up row.
func (e *Executor) Execute(ctx context.Context, f FollowUp) (string, error) {
	lead, err := e.leads.Get(ctx, f.TenantID, f.LeadID)
	if err != nil {
		return "", fmt.Errorf("load lead: %w", err)
	}
	rule, err := e.rules.GetRule(ctx, f.TenantID, f.RuleID)
	if err != nil {
		return "", fmt.Errorf("load rule: %w", err)
	}
	message := notify.Render(rule.MessageTemplate, map[string]string{
		"name":  lead.Name,
		"phone": lead.Phone,
		"email": lead.Email,
	})

	switch f.Action {
	case ActionEmail:
		if lead.Email == "" {
			return "skipped: lead has no email", nil
		}
		if err := e.mailer.Send(ctx, notify.Email{To: lead.Email, Subject: defaultEmailSubject, HTML: message}); err != nil {
			return "", err
		}
		return "email sent", nil
	case ActionCall, ActionSMS:
		if lead.Phone == "" {
			return "skipped: lead has no phone", nil
		}
		res, err := e.outreach.Dispatch(ctx, notify.OutreachRequest{
			TenantID:   f.TenantID,
			LeadID:     f.LeadID,
			FollowUpID: f.ID,
			Channel:    string(f.Action),
			To:         lead.Phone,
			Message:    message,
			Attempt:    f.Attempt,
		})
		if err != nil {
			return "", err
		}
		return "dispatched: " + res.ID, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, f.Action)
	}
}
