package followups

import (
	"context"
	"testing"

	"voiceagent-platform/internal/leads"
	"voiceagent-platform/internal/notify"
)

type captureMailer struct{ sent []notify.Email }

func (m *captureMailer) Send(ctx context.Context, e notify.Email) error {
	m.sent = append(m.sent, e)
	return nil
}

type captureOutreach struct{ reqs []notify.OutreachRequest }

func (o *captureOutreach) Dispatch(ctx context.Context, req notify.OutreachRequest) (notify.OutreachResponse, error) {
	o.reqs = append(o.reqs, req)
	return notify.OutreachResponse{ID: "job-7"}, nil
}

func newExecutorFixture(t *testing.T, lead leads.Lead, rule Rule) (*Executor, *captureMailer, *captureOutreach) {
	t.Helper()
	leadRepo := leads.NewMemoryRepo()
	if _, err := leadRepo.Insert(context.Background(), lead); err != nil {
		t.Fatalf("insert lead: %v", err)
	}
	rules := NewMemoryRepo()
	rules.PutRule(rule)
	mailer := &captureMailer{}
	outreach := &captureOutreach{}
	return NewExecutor(rules, leadRepo, mailer, outreach), mailer, outreach
}

func TestExecutor_SMSRendersTemplate(t *testing.T) {
	exec, _, outreach := newExecutorFixture(t,
		leads.Lead{ID: "lead-1", TenantID: "t1", Phone: "+15551234567", Name: "Dana", Status: leads.StatusNew},
		Rule{ID: "r1", TenantID: "t1", Action: ActionSMS, MessageTemplate: "Hi {{name}}, sorry we missed you.", Enabled: true},
	)

	result, err := exec.Execute(context.Background(), FollowUp{
		ID: "f1", TenantID: "t1", RuleID: "r1", LeadID: "lead-1", Action: ActionSMS, Attempt: 2,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "dispatched: job-7" {
		t.Fatalf("unexpected result %q", result)
	}
	if len(outreach.reqs) != 1 {
		t.Fatalf("expected one outreach request")
	}
	req := outreach.reqs[0]
	if req.To != "+15551234567" || req.Channel != "sms" || req.Attempt != 2 || req.Message != "Hi Dana, sorry we missed you." {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestExecutor_EmailWithoutAddressIsSkipped(t *testing.T) {
	exec, mailer, _ := newExecutorFixture(t,
		leads.Lead{ID: "lead-1", TenantID: "t1", Phone: "+15551234567", Status: leads.StatusNew},
		Rule{ID: "r1", TenantID: "t1", Action: ActionEmail, Enabled: true},
	)
	result, err := exec.Execute(context.Background(), FollowUp{ID: "f1", TenantID: "t1", RuleID: "r1", LeadID: "lead-1", Action: ActionEmail})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(mailer.sent) != 0 || result != "skipped: lead has no email" {
		t.Fatalf("unexpected result %q sent=%d", result, len(mailer.sent))
	}
}

func TestExecutor_EmailSent(t *testing.T) {
	exec, mailer, _ := newExecutorFixture(t,
		leads.Lead{ID: "lead-1", TenantID: "t1", Email: "dana@example.com", Name: "Dana", Status: leads.StatusNew},
		Rule{ID: "r1", TenantID: "t1", Action: ActionEmail, MessageTemplate: "<p>Hello {{name}}</p>", Enabled: true},
	)
	if _, err := exec.Execute(context.Background(), FollowUp{ID: "f1", TenantID: "t1", RuleID: "r1", LeadID: "lead-1", Action: ActionEmail}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].To != "dana@example.com" || mailer.sent[0].HTML != "<p>Hello Dana</p>" {
		t.Fatalf("unexpected mail %+v", mailer.sent)
	}
}
