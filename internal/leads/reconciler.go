package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceagent-platform/internal/calls"
	"voiceagent-platform/internal/phone"
	"voiceagent-platform/pkg/logger"
)

// CallLinker sets a call's lead reference. Implemented by calls.Store.
type CallLinker interface {
	LinkLead(ctx context.Context, tenantID, callID, leadID string) error
}

// Result describes what reconciling one call did to its lead.
type Result struct {
	Lead Lead
	// Found is false when no lead applies (outbound call to an unknown
	// number, or an anonymous caller).
	Found   bool
	Created bool

	StatusChange *StatusChange
	ScoreChange  *ScoreChange
}

type StatusChange struct {
	From Status
	To   Status
}

type ScoreChange struct {
	Previous int
	Current  int
}

// Reconciler attaches calls to leads.
//
// Inbound calls find-or-create the lead for (tenant, caller number). The
// (tenant, phone) unique constraint decides concurrent first contacts: a
// losing insert re-reads the winner's row and continues as an update.
// Outbound calls only attach to an existing lead.
type Reconciler struct {
	repo  Repository
	calls CallLinker
	clock func() time.Time
}

func NewReconciler(repo Repository, linker CallLinker) *Reconciler {
	return &Reconciler{repo: repo, calls: linker, clock: time.Now}
}

// Reconcile links call to its lead and, for terminal calls, applies the
// call outcome to the lead's status and score. leadHint is a lead id the
// call was placed for, if any.
func (r *Reconciler) Reconcile(ctx context.Context, call calls.Call, leadHint string) (Result, error) {
	if call.TenantID == "" || call.ID == "" {
		return Result{}, ErrInvalidArgument
	}
	log := logger.From(ctx)

	var (
		res Result
		err error
	)
	switch call.Direction {
	case calls.DirectionInbound:
		res, err = r.findOrCreate(ctx, call)
	default:
		res, err = r.findForOutbound(ctx, call, leadHint)
	}
	if err != nil || !res.Found {
		return res, err
	}

	lead, err := r.repo.RecordContact(ctx, call.TenantID, res.Lead.ID, Contact{
		CallID: call.ID,
		Notes:  call.Summary,
		At:     r.clock(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("record contact: %w", err)
	}
	res.Lead = lead

	if call.LeadID != lead.ID {
		if err := r.calls.LinkLead(ctx, call.TenantID, call.ID, lead.ID); err != nil {
			return Result{}, fmt.Errorf("link call to lead: %w", err)
		}
	}

	if call.Status.IsTerminal() {
		if err := r.applyOutcome(ctx, call, &res); err != nil {
			return Result{}, err
		}
	}

	if res.Created {
		log.Info("lead created", "tenant_id", call.TenantID, "lead_id", lead.ID, "call_id", call.ID)
	}
	return res, nil
}

func (r *Reconciler) findOrCreate(ctx context.Context, call calls.Call) (Result, error) {
	number := phone.NormalizeE164(call.FromNumber)
	if !phone.IsDialable(number) {
		logger.From(ctx).Info("inbound caller number unknown; no lead reconciled",
			"tenant_id", call.TenantID, "call_id", call.ID, "from", call.FromNumber)
		return Result{}, nil
	}

	existing, err := r.repo.FindByPhone(ctx, call.TenantID, number)
	if err == nil {
		return Result{Lead: existing, Found: true}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Result{}, fmt.Errorf("find lead: %w", err)
	}

	created, err := r.repo.Insert(ctx, Lead{
		TenantID: call.TenantID,
		Phone:    number,
		Status:   StatusNew,
		Score:    BaseScore,
		Source:   SourceInbound,
	})
	if err == nil {
		return Result{Lead: created, Found: true, Created: true}, nil
	}
	if !errors.Is(err, ErrLeadExists) {
		return Result{}, fmt.Errorf("insert lead: %w", err)
	}

	// A concurrent delivery created it between our read and insert.
	existing, err = r.repo.FindByPhone(ctx, call.TenantID, number)
	if err != nil {
		return Result{}, fmt.Errorf("re-read lead after conflict: %w", err)
	}
	return Result{Lead: existing, Found: true}, nil
}

func (r *Reconciler) findForOutbound(ctx context.Context, call calls.Call, leadHint string) (Result, error) {
	if leadHint != "" {
		l, err := r.repo.Get(ctx, call.TenantID, leadHint)
		if err == nil {
			return Result{Lead: l, Found: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Result{}, fmt.Errorf("get lead: %w", err)
		}
	}

	number := phone.NormalizeE164(call.ToNumber)
	if !phone.IsDialable(number) {
		return Result{}, nil
	}
	l, err := r.repo.FindByPhone(ctx, call.TenantID, number)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("find lead: %w", err)
	}
	return Result{Lead: l, Found: true}, nil
}

func (r *Reconciler) applyOutcome(ctx context.Context, call calls.Call, res *Result) error {
	lead := res.Lead

	if next, ok := StatusForOutcome(call.Outcome); ok && lead.Status != StatusCustomer {
		changed, err := r.repo.SetStatus(ctx, lead.TenantID, lead.ID, next)
		if err != nil {
			return fmt.Errorf("set lead status: %w", err)
		}
		if changed {
			res.StatusChange = &StatusChange{From: lead.Status, To: next}
			res.Lead.Status = next
		}
	}

	score, factors := Score(call)
	if err := r.repo.SetScore(ctx, lead.TenantID, lead.ID, score, factors); err != nil {
		return fmt.Errorf("set lead score: %w", err)
	}
	res.ScoreChange = &ScoreChange{Previous: lead.Score, Current: score}
	res.Lead.Score = score
	res.Lead.ScoreFactors = factors
	return nil
}
