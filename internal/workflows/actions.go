package workflows

import (
	"context"
	"fmt"
	"strconv"

	"voiceagent-platform/internal/leads"
	"voiceagent-platform/internal/notify"
)

// Step is one action invocation inside an execution.
type Step struct {
	ExecutionID string
	WorkflowID  string
	Index       int
	Action      Action
	Event       Event
}

// ActionHandler performs one ActionType.
type ActionHandler interface {
	Handle(ctx context.Context, s Step) error
}

type ActionHandlerFunc func(ctx context.Context, s Step) error

func (f ActionHandlerFunc) Handle(ctx context.Context, s Step) error { return f(ctx, s) }

// Handlers maps every supported action to its handler.
type Handlers map[ActionType]ActionHandler

// LeadWriter is the part of the lead repository actions mutate.
type LeadWriter interface {
	SetStatus(ctx context.Context, tenantID, id string, status leads.Status) (bool, error)
	AddTag(ctx context.Context, tenantID, id, tag string) error
}

// NewHandlers wires the built-in actions. A nil dependency leaves the
// corresponding action unregistered, so workflows using it fail visibly.
func NewHandlers(lw LeadWriter, mailer notify.Mailer, poster notify.WebhookPoster) Handlers {
	h := Handlers{}
	if lw != nil {
		h[ActionUpdateLeadStatus] = leadStatusAction{leads: lw}
		h[ActionAddLeadTag] = leadTagAction{leads: lw}
	}
	if mailer != nil {
		h[ActionSendEmail] = emailAction{mailer: mailer}
	}
	if poster != nil {
		h[ActionNotifyWebhook] = webhookAction{poster: poster}
	}
	return h
}

type leadStatusAction struct{ leads LeadWriter }

func (a leadStatusAction) Handle(ctx context.Context, s Step) error {
	if s.Event.LeadID == "" {
		return fmt.Errorf("%w: event has no lead", ErrInvalidArgument)
	}
	status := leads.Status(s.Action.Status)
	if !status.Valid() {
		return fmt.Errorf("%w: lead status %q", ErrInvalidArgument, s.Action.Status)
	}
	_, err := a.leads.SetStatus(ctx, s.Event.TenantID, s.Event.LeadID, status)
	return err
}

type leadTagAction struct{ leads LeadWriter }

func (a leadTagAction) Handle(ctx context.Context, s Step) error {
	if s.Event.LeadID == "" {
		return fmt.Errorf("%w: event has no lead", ErrInvalidArgument)
	}
	return a.leads.AddTag(ctx, s.Event.TenantID, s.Event.LeadID, s.Action.Tag)
}

type emailAction struct{ mailer notify.Mailer }

func (a emailAction) Handle(ctx context.Context, s Step) error {
	to := s.Action.To
	if to == "" {
		to = s.Event.LeadEmail
	}
	if to == "" {
		return notify.ErrNoRecipient
	}
	vars := templateVars(s.Event)
	return a.mailer.Send(ctx, notify.Email{
		To:      notify.Render(to, vars),
		Subject: notify.Render(s.Action.Subject, vars),
		HTML:    notify.Render(s.Action.Body, vars),
	})
}

type webhookAction struct{ poster notify.WebhookPoster }

// webhookBody is the JSON document posted by notify_webhook.
type webhookBody struct {
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	Trigger     Trigger        `json:"trigger"`
	TenantID    string         `json:"tenant_id"`
	Data        map[string]any `json:"data"`
}

func (a webhookAction) Handle(ctx context.Context, s Step) error {
	body := webhookBody{
		WorkflowID:  s.WorkflowID,
		ExecutionID: s.ExecutionID,
		Trigger:     s.Event.Trigger,
		TenantID:    s.Event.TenantID,
		Data:        s.Event.Snapshot(),
	}
	headers := map[string]string{
		"Idempotency-Key": s.ExecutionID + ":" + strconv.Itoa(s.Index),
	}
	return a.poster.PostJSON(ctx, s.Action.URL, body, headers)
}

func templateVars(ev Event) map[string]string {
	return map[string]string{
		"lead_name":  ev.LeadName,
		"lead_phone": ev.LeadPhone,
		"lead_email": ev.LeadEmail,
		"status":     ev.Status,
		"score":      strconv.Itoa(ev.Score),
		"call_id":    ev.CallID,
	}
}
