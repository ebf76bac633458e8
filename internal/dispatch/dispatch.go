// ABOUTME: Mode-keyed request dispatcher with uniform response formatting
// ABOUTME: Maps handler results and the error taxonomy onto HTTP statuses

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/funnelworks/funnel-gateway/internal/gencache"
	"github.com/funnelworks/funnel-gateway/internal/metrics"
	"github.com/funnelworks/funnel-gateway/internal/notify"
	"github.com/funnelworks/funnel-gateway/internal/ratelimit"
	"github.com/funnelworks/funnel-gateway/internal/request"
	"github.com/funnelworks/funnel-gateway/internal/store"
	"github.com/funnelworks/funnel-gateway/internal/upstream"
	"github.com/funnelworks/funnel-gateway/internal/workflow"
)

// ErrAccessDenied marks a request rejected by the membership gate.
var ErrAccessDenied = errors.New("access denied")

// accessDeniedMessage is the wire message the membership gate returns.
const accessDeniedMessage = "Membership expired or GPT quota exceeded."

// UserStore is the slice of the user client the dispatcher needs.
type UserStore interface {
	Get(ctx context.Context, email string) (map[string]any, error)
	Create(ctx context.Context, method string, record upstream.UserRecord) error
}

// MembershipStore is the slice of the membership client the dispatcher needs.
type MembershipStore interface {
	Get(ctx context.Context, email string) (*upstream.MembershipRecord, error)
	Create(ctx context.Context, method string, record upstream.MembershipRecord) error
}

// ContentCache runs the get-or-generate protocol.
type ContentCache interface {
	GetOrGenerate(ctx context.Context, keyword string, buildPrompt func(string) string, promo string) (*gencache.Result, error)
}

// Workflow runs powerplay creation and steps.
type Workflow interface {
	Create(ctx context.Context, method string, userInfo map[string]any) (map[string]any, error)
	RunStep(ctx context.Context, email, platform string, step int) (map[string]any, error)
}

// Notifier delivers response payloads to caller webhooks.
type Notifier interface {
	Notify(ctx context.Context, url string, payload any) notify.Status
}

// Auditor records dispatched requests. Best-effort only.
type Auditor interface {
	Record(ctx context.Context, entry *store.AuditEntry) error
}

// Deps wires the dispatcher's collaborators. Audit, Limiter, and Metrics are
// optional; Now defaults to time.Now and exists for the membership gate tests.
type Deps struct {
	Users       UserStore
	Memberships MembershipStore
	Cache       ContentCache
	Workflow    Workflow
	Notifier    Notifier
	Audit       Auditor
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// Response is the uniform result envelope the gateway writes out.
type Response struct {
	StatusCode int
	Body       any
}

// outcome is a handler's result before webhook and audit bookkeeping.
type outcome struct {
	status    int
	body      any
	cacheHit  bool
	generated bool
}

type handler func(ctx context.Context, req *request.Request) (*outcome, error)

// Dispatcher routes normalized requests to per-mode handlers. Adding a mode
// means adding a table entry, not another branch.
type Dispatcher struct {
	users       UserStore
	memberships MembershipStore
	cache       ContentCache
	workflow    Workflow
	notifier    Notifier
	audit       Auditor
	limiter     *ratelimit.Limiter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	handlers map[request.Mode]handler
}

func New(deps Deps) *Dispatcher {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	d := &Dispatcher{
		users:       deps.Users,
		memberships: deps.Memberships,
		cache:       deps.Cache,
		workflow:    deps.Workflow,
		notifier:    deps.Notifier,
		audit:       deps.Audit,
		limiter:     deps.Limiter,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With("component", "dispatch"),
		now:         now,
	}
	d.handlers = map[request.Mode]handler{
		request.ModeFunnel:          d.handleFunnel,
		request.ModeSearch:          d.handleSearch,
		request.ModeUser:            d.handleUser,
		request.ModeMembership:      d.handleMembership,
		request.ModePassionProduct:  d.handlePassionProduct,
		request.ModePowerplayCreate: d.handlePowerplayCreate,
		request.ModePowerplay:       d.handlePowerplayStep,
	}
	return d
}

// generative marks the modes guarded by the per-email rate limiter.
var generative = map[request.Mode]bool{
	request.ModeFunnel:         true,
	request.ModeSearch:         true,
	request.ModePassionProduct: true,
	request.ModePowerplay:      true,
}

// Dispatch parses, validates, and routes one request body, then runs the
// webhook and audit bookkeeping. It always returns a writable response.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) *Response {
	start := d.now()

	req, err := request.Parse(body)
	if err != nil {
		resp := &Response{StatusCode: 400, Body: map[string]any{"error": err.Error()}}
		d.finish(ctx, start, req, resp, &outcome{}, notify.StatusSkipped)
		return resp
	}

	var out *outcome
	if err := req.Validate(); err != nil {
		out = mapError(err)
	} else if h, ok := d.handlers[req.Mode]; !ok {
		out = &outcome{status: 400, body: map[string]any{"error": "unknown mode: " + string(req.Mode)}}
	} else if generative[req.Mode] && !d.limiter.Allow(req.Email) {
		d.logger.Warn("rate limit exceeded", "email", req.Email, "mode", req.Mode)
		out = &outcome{status: 429, body: map[string]any{"error": "rate limit exceeded"}}
	} else {
		out, err = h(ctx, req)
		if err != nil {
			d.logger.Error("request failed", "mode", req.Mode, "email", req.Email, "error", err)
			out = mapError(err)
		}
	}

	resp := &Response{StatusCode: out.status, Body: out.body}

	// The webhook gets the same payload as the caller, after the handler has
	// fully settled. Its outcome never alters the response.
	webhookStatus := notify.StatusSkipped
	if resp.StatusCode < 400 {
		webhookStatus = d.notifier.Notify(ctx, req.DestinationWebhook, resp.Body)
		d.metrics.Webhook(string(webhookStatus))
	}

	d.finish(ctx, start, req, resp, out, webhookStatus)
	return resp
}

func (d *Dispatcher) finish(ctx context.Context, start time.Time, req *request.Request, resp *Response, out *outcome, webhookStatus notify.Status) {
	mode := "invalid"
	email, keyword := "", ""
	if req != nil {
		mode = string(req.Mode)
		email = req.Email
		keyword = req.Keyword
	}

	d.metrics.ObserveRequest(mode, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	if d.audit == nil {
		return
	}
	entry := &store.AuditEntry{
		ID:            uuid.New().String(),
		Mode:          mode,
		Email:         email,
		Keyword:       keyword,
		Status:        resp.StatusCode,
		CacheHit:      out.cacheHit,
		Generated:     out.generated,
		WebhookStatus: string(webhookStatus),
		CreatedAt:     d.now(),
	}
	if err := d.audit.Record(ctx, entry); err != nil {
		d.logger.Warn("audit record failed", "error", err)
	}
}

// mapError assigns a status and body to a classified error.
func mapError(err error) *outcome {
	var missing *request.MissingFieldsError
	if errors.As(err, &missing) {
		return &outcome{status: 400, body: map[string]any{
			"error":  missing.Error(),
			"fields": missing.Fields,
		}}
	}

	var badOutput *workflow.GenerationOutputError
	if errors.As(err, &badOutput) {
		return &outcome{status: 500, body: map[string]any{
			"error": badOutput.Error(),
			"raw":   badOutput.Raw,
		}}
	}

	switch {
	case errors.Is(err, ErrAccessDenied):
		return &outcome{status: 403, body: map[string]any{"error": accessDeniedMessage}}
	case errors.Is(err, workflow.ErrMissingEmail),
		errors.Is(err, workflow.ErrUnsupportedStep),
		errors.Is(err, workflow.ErrMissingPrerequisite):
		return &outcome{status: 400, body: map[string]any{"error": err.Error()}}
	default:
		return &outcome{status: 500, body: map[string]any{"error": err.Error()}}
	}
}
