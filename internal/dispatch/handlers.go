// ABOUTME: Per-mode handlers: funnel, search, user, membership, passion-product, powerplay
// ABOUTME: Success statuses: 200 fresh, 202 cache hit, 201 powerplay creation

package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/funnelworks/funnel-gateway/internal/ensure"
	"github.com/funnelworks/funnel-gateway/internal/gencache"
	"github.com/funnelworks/funnel-gateway/internal/request"
	"github.com/funnelworks/funnel-gateway/internal/upstream"
)

// handleFunnel ensures the user record exists, then runs get-or-generate for
// the normalized keyword.
func (d *Dispatcher) handleFunnel(ctx context.Context, req *request.Request) (*outcome, error) {
	userOutcome, err := ensure.Exists(ctx,
		func(ctx context.Context) error {
			_, err := d.users.Get(ctx, req.Email)
			return err
		},
		func(ctx context.Context) error {
			return d.users.Create(ctx, req.Method, userRecord(req))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring user: %w", err)
	}
	d.logger.Debug("user ensured", "email", req.Email, "outcome", userOutcome.String())

	return d.generate(ctx, req, funnelPrompt, "funnel")
}

// handleSearch gates generation on an active membership with remaining quota.
// The boundary is strict: a consumed quota or an expired subscription rejects.
func (d *Dispatcher) handleSearch(ctx context.Context, req *request.Request) (*outcome, error) {
	member, err := d.memberships.Get(ctx, req.Email)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return nil, fmt.Errorf("%w: no membership for %s", ErrAccessDenied, req.Email)
		}
		return nil, fmt.Errorf("loading membership: %w", err)
	}

	if member.GPTCount >= member.GPTLimit || d.now().Unix() > member.SubEnd {
		return nil, fmt.Errorf("%w: quota %d/%d", ErrAccessDenied, member.GPTCount, member.GPTLimit)
	}

	return d.generate(ctx, req, searchPrompt, "search")
}

// handleUser runs the resource upsert without any generation.
func (d *Dispatcher) handleUser(ctx context.Context, req *request.Request) (*outcome, error) {
	userOutcome, err := ensure.Exists(ctx,
		func(ctx context.Context) error {
			_, err := d.users.Get(ctx, req.Email)
			return err
		},
		func(ctx context.Context) error {
			return d.users.Create(ctx, req.Method, userRecord(req))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring user: %w", err)
	}

	return &outcome{status: 200, body: map[string]any{
		"message": "User handled successfully",
		"outcome": userOutcome.String(),
	}}, nil
}

// handleMembership upserts the membership record carried in the payload.
func (d *Dispatcher) handleMembership(ctx context.Context, req *request.Request) (*outcome, error) {
	if req.Membership == nil {
		return nil, &request.MissingFieldsError{Fields: map[string]string{"membership": ""}}
	}

	record := upstream.MembershipRecord{
		Email:         req.Email,
		Plan:          req.Membership.Plan,
		Tier:          req.Membership.Tier,
		PaymentFreq:   req.Membership.PaymentFreq,
		PaymentAmount: req.Membership.PaymentAmount,
		GPTLimit:      req.Membership.GPTLimit,
		GPTCount:      req.Membership.GPTCount,
		SubStart:      req.Membership.SubStart,
		SubEnd:        req.Membership.SubEnd,
	}

	memberOutcome, err := ensure.Exists(ctx,
		func(ctx context.Context) error {
			_, err := d.memberships.Get(ctx, req.Email)
			return err
		},
		func(ctx context.Context) error {
			return d.memberships.Create(ctx, req.Method, record)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring membership: %w", err)
	}

	return &outcome{status: 200, body: map[string]any{
		"message": "Membership handled successfully",
		"outcome": memberOutcome.String(),
	}}, nil
}

// handlePassionProduct is generation-only: no upsert, no membership gate.
// The keyword is still required even though common validation was skipped.
func (d *Dispatcher) handlePassionProduct(ctx context.Context, req *request.Request) (*outcome, error) {
	if req.Keyword == "" {
		return nil, &request.MissingFieldsError{Fields: map[string]string{"interest": req.Interest}}
	}
	return d.generate(ctx, req, passionProductPrompt, "passion-product")
}

// handlePowerplayCreate posts the raw user-info payload to the workflow store.
func (d *Dispatcher) handlePowerplayCreate(ctx context.Context, req *request.Request) (*outcome, error) {
	payload := req.User
	if payload == nil {
		payload = map[string]any{"email": req.Email}
	}

	record, err := d.workflow.Create(ctx, req.Method, payload)
	if err != nil {
		return nil, err
	}

	return &outcome{status: 201, body: map[string]any{
		"message": "PowerPlay created",
		"data":    record,
	}}, nil
}

// handlePowerplayStep runs one configured workflow step.
func (d *Dispatcher) handlePowerplayStep(ctx context.Context, req *request.Request) (*outcome, error) {
	if req.Email == "" {
		return nil, &request.MissingFieldsError{Fields: map[string]string{"email": req.Envelope.Email}}
	}

	updated, err := d.workflow.RunStep(ctx, req.Email, req.Platform, req.Step)
	if err != nil {
		return nil, err
	}

	return &outcome{status: 200, body: map[string]any{
		"message": "PowerPlay updated",
		"data":    updated,
	}}, nil
}

// generate runs get-or-generate and formats the shared success shape.
// A cache hit answers 202, fresh generation 200.
func (d *Dispatcher) generate(ctx context.Context, req *request.Request, buildPrompt func(string) string, promo string) (*outcome, error) {
	result, err := d.cache.GetOrGenerate(ctx, req.Keyword, buildPrompt, promo)
	if err != nil {
		return nil, fmt.Errorf("get-or-generate: %w", err)
	}

	status := 200
	if result.FromCache {
		status = 202
		d.metrics.CacheHit()
	} else {
		d.metrics.CacheMiss()
		d.metrics.Generation()
	}

	return &outcome{
		status:    status,
		cacheHit:  result.FromCache,
		generated: !result.FromCache,
		body:      generationBody(req.Keyword, result),
	}, nil
}

func generationBody(keyword string, result *gencache.Result) map[string]any {
	return map[string]any{
		"keyword":  keyword,
		"cached":   result.FromCache,
		"response": result.Body(),
	}
}

func userRecord(req *request.Request) upstream.UserRecord {
	return upstream.UserRecord{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Business:  req.Business,
		Interest:  req.Keyword,
	}
}

func funnelPrompt(keyword string) string {
	return fmt.Sprintf(
		"Generate a sales funnel content plan for the niche %q. "+
			"Group related sub-topics together and list concrete content ideas under each group. "+
			"Respond with only a JSON list of objects, each mapping one group name to its list of content ideas.",
		keyword)
}

func searchPrompt(keyword string) string {
	return fmt.Sprintf(
		"Research the niche %q: identify its audience segments and the search terms each segment uses. "+
			"Respond with only a JSON list of objects, each mapping one segment name to its list of search terms.",
		keyword)
}

func passionProductPrompt(keyword string) string {
	return fmt.Sprintf(
		"Design passion product concepts for the niche %q: digital or physical products an enthusiast "+
			"audience would buy. Respond with only a JSON list of objects, each mapping one product "+
			"concept to its list of selling points.",
		keyword)
}
