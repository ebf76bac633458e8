// ABOUTME: Dispatcher tests: routing, validation, membership gate, statuses, webhooks, audit

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelworks/funnel-gateway/internal/gencache"
	"github.com/funnelworks/funnel-gateway/internal/notify"
	"github.com/funnelworks/funnel-gateway/internal/ratelimit"
	"github.com/funnelworks/funnel-gateway/internal/store"
	"github.com/funnelworks/funnel-gateway/internal/upstream"
	"github.com/funnelworks/funnel-gateway/internal/workflow"
)

type fakeUsers struct {
	existing map[string]map[string]any
	getErr   error

	gets    int
	creates int
	created upstream.UserRecord
}

func (f *fakeUsers) Get(ctx context.Context, email string) (map[string]any, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	record, ok := f.existing[email]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	return record, nil
}

func (f *fakeUsers) Create(ctx context.Context, method string, record upstream.UserRecord) error {
	f.creates++
	f.created = record
	return nil
}

type fakeMemberships struct {
	member *upstream.MembershipRecord
	getErr error

	creates int
}

func (f *fakeMemberships) Get(ctx context.Context, email string) (*upstream.MembershipRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.member == nil {
		return nil, upstream.ErrNotFound
	}
	return f.member, nil
}

func (f *fakeMemberships) Create(ctx context.Context, method string, record upstream.MembershipRecord) error {
	f.creates++
	return nil
}

type fakeCache struct {
	result *gencache.Result
	err    error

	calls       int
	lastKeyword string
	lastPromo   string
	lastPrompt  string
}

func (f *fakeCache) GetOrGenerate(ctx context.Context, keyword string, buildPrompt func(string) string, promo string) (*gencache.Result, error) {
	f.calls++
	f.lastKeyword = keyword
	f.lastPromo = promo
	f.lastPrompt = buildPrompt(keyword)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeWorkflow struct {
	createOut map[string]any
	createErr error
	stepOut   map[string]any
	stepErr   error

	lastPayload  map[string]any
	lastEmail    string
	lastPlatform string
	lastStep     int
}

func (f *fakeWorkflow) Create(ctx context.Context, method string, userInfo map[string]any) (map[string]any, error) {
	f.lastPayload = userInfo
	return f.createOut, f.createErr
}

func (f *fakeWorkflow) RunStep(ctx context.Context, email, platform string, step int) (map[string]any, error) {
	f.lastEmail = email
	f.lastPlatform = platform
	f.lastStep = step
	return f.stepOut, f.stepErr
}

type fakeNotifier struct {
	status notify.Status

	calls   int
	lastURL string
	payload any
}

func (f *fakeNotifier) Notify(ctx context.Context, url string, payload any) notify.Status {
	f.calls++
	f.lastURL = url
	f.payload = payload
	if f.status == "" {
		return notify.StatusDelivered
	}
	return f.status
}

type fakeAudit struct {
	err     error
	entries []*store.AuditEntry
}

func (f *fakeAudit) Record(ctx context.Context, entry *store.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return f.err
}

type fixture struct {
	users       *fakeUsers
	memberships *fakeMemberships
	cache       *fakeCache
	workflow    *fakeWorkflow
	notifier    *fakeNotifier
	audit       *fakeAudit
	deps        Deps
}

func newFixture() *fixture {
	f := &fixture{
		users:       &fakeUsers{existing: map[string]map[string]any{}},
		memberships: &fakeMemberships{},
		cache:       &fakeCache{result: &gencache.Result{Groups: []map[string]any{{"yoga": []any{"retreats"}}}}},
		workflow:    &fakeWorkflow{},
		notifier:    &fakeNotifier{},
		audit:       &fakeAudit{},
	}
	f.deps = Deps{
		Users:       f.users,
		Memberships: f.memberships,
		Cache:       f.cache,
		Workflow:    f.workflow,
		Notifier:    f.notifier,
		Audit:       f.audit,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return f
}

func (f *fixture) dispatch(t *testing.T, body string) *Response {
	t.Helper()
	return New(f.deps).Dispatch(context.Background(), []byte(body))
}

func bodyMap(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	raw, err := json.Marshal(resp.Body)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestDispatch_UserModeCreatesMissingUser(t *testing.T) {
	f := newFixture()

	resp := f.dispatch(t, `{"mode":"user","email":"A@x.com","firstName":"Ann","interest":"Yoga"}`)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "User handled successfully", bodyMap(t, resp)["message"])
	assert.Equal(t, 1, f.users.creates)
	assert.Equal(t, "a@x.com", f.users.created.Email, "email normalized before upsert")
	assert.Equal(t, "yoga", f.users.created.Interest)
}

func TestDispatch_UserModeExistingUserSkipsCreate(t *testing.T) {
	f := newFixture()
	f.users.existing["a@x.com"] = map[string]any{"email": "a@x.com"}

	resp := f.dispatch(t, `{"mode":"user","email":"a@x.com","interest":"yoga"}`)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "existing", bodyMap(t, resp)["outcome"])
	assert.Zero(t, f.users.creates)
}

func TestDispatch_FunnelFreshGenerationIs200(t *testing.T) {
	f := newFixture()
	f.cache.result.FromCache = false

	resp := f.dispatch(t, `{"email":"a@x.com","interest":"yoga"}`)

	assert.Equal(t, 200, resp.StatusCode, "mode defaults to funnel")
	body := bodyMap(t, resp)
	assert.Equal(t, "yoga", body["keyword"])
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, 1, f.users.creates, "funnel upserts the user first")
	assert.Equal(t, "funnel", f.cache.lastPromo)
	assert.Contains(t, f.cache.lastPrompt, `"yoga"`)
}

func TestDispatch_FunnelCacheHitIs202(t *testing.T) {
	f := newFixture()
	f.cache.result.FromCache = true

	resp := f.dispatch(t, `{"email":"a@x.com","gpt":"Yoga "}`)

	assert.Equal(t, 202, resp.StatusCode)
	assert.Equal(t, "yoga", f.cache.lastKeyword, "gpt field trimmed and lowered")
}

func TestDispatch_FunnelFatalLookupSkipsGeneration(t *testing.T) {
	f := newFixture()
	f.users.getErr = &upstream.Error{StatusCode: 500, Message: "table unavailable"}

	resp := f.dispatch(t, `{"email":"a@x.com","interest":"yoga"}`)

	assert.Equal(t, 500, resp.StatusCode)
	assert.Zero(t, f.cache.calls)
}

func TestDispatch_SearchAllowedWithinQuotaAndTerm(t *testing.T) {
	f := newFixture()
	now := time.Now()
	f.deps.Now = func() time.Time { return now }
	f.memberships.member = &upstream.MembershipRecord{
		Email: "a@x.com", GPTLimit: 10, GPTCount: 9, SubEnd: now.Add(time.Hour).Unix(),
	}

	resp := f.dispatch(t, `{"mode":"search","email":"a@x.com","interest":"yoga"}`)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "search", f.cache.lastPromo)
}

func TestDispatch_SearchQuotaBoundaryRejects(t *testing.T) {
	f := newFixture()
	now := time.Now()
	f.deps.Now = func() time.Time { return now }
	f.memberships.member = &upstream.MembershipRecord{
		Email: "a@x.com", GPTLimit: 10, GPTCount: 10, SubEnd: now.Add(time.Hour).Unix(),
	}

	resp := f.dispatch(t, `{"mode":"search","email":"a@x.com","interest":"yoga"}`)

	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, "Membership expired or GPT quota exceeded.", bodyMap(t, resp)["error"])
	assert.Zero(t, f.cache.calls)
}

func TestDispatch_SearchExpiredSubscriptionRejects(t *testing.T) {
	f := newFixture()
	now := time.Now()
	f.deps.Now = func() time.Time { return now }
	f.memberships.member = &upstream.MembershipRecord{
		Email: "a@x.com", GPTLimit: 10, GPTCount: 0, SubEnd: now.Add(-time.Second).Unix(),
	}

	resp := f.dispatch(t, `{"mode":"search","email":"a@x.com","interest":"yoga"}`)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestDispatch_SearchSubscriptionBoundaryAllows(t *testing.T) {
	f := newFixture()
	now := time.Unix(1700000000, 0)
	f.deps.Now = func() time.Time { return now }
	f.memberships.member = &upstream.MembershipRecord{
		Email: "a@x.com", GPTLimit: 10, GPTCount: 0, SubEnd: now.Unix(),
	}

	resp := f.dispatch(t, `{"mode":"search","email":"a@x.com","interest":"yoga"}`)
	assert.Equal(t, 200, resp.StatusCode, "subscription valid through its last second")
}

func TestDispatch_SearchUnknownMemberRejects(t *testing.T) {
	f := newFixture()

	resp := f.dispatch(t, `{"mode":"search","email":"ghost@x.com","interest":"yoga"}`)

	assert.Equal(t, 403, resp.StatusCode)
	assert.Zero(t, f.cache.calls)
}

func TestDispatch_MissingFieldsEchoed(t *testing.T) {
	f := newFixture()

	resp := f.dispatch(t, `{"mode":"funnel","interest":"  "}`)

	assert.Equal(t, 400, resp.StatusCode)
	body := bodyMap(t, resp)
	assert.Contains(t, body["error"], "missing required fields")
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "interest")
	assert.Zero(t, f.notifier.calls, "no webhook on rejection")
}

func TestDispatch_UnknownModeRejected(t *testing.T) {
	f := newFixture()
	resp := f.dispatch(t, `{"mode":"teleport","email":"a@x.com","interest":"yoga"}`)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, bodyMap(t, resp)["error"], "unknown mode")
}

func TestDispatch_MalformedJSONRejected(t *testing.T) {
	f := newFixture()
	resp := f.dispatch(t, `{"email":`)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestDispatch_PassionProductSkipsUpsert(t *testing.T) {
	f := newFixture()

	resp := f.dispatch(t, `{"mode":"passion-product","interest":"yoga"}`)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Zero(t, f.users.gets, "no user lookup in passion-product mode")
	assert.Equal(t, "passion-product", f.cache.lastPromo)
}

func TestDispatch_PassionProductStillNeedsKeyword(t *testing.T) {
	f := newFixture()
	resp := f.dispatch(t, `{"mode":"passion-product"}`)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Zero(t, f.cache.calls)
}

func TestDispatch_MembershipUpsert(t *testing.T) {
	f := newFixture()

	resp := f.dispatch(t, `{
		"mode":"membership","email":"a@x.com","interest":"yoga",
		"membership":{"plan":"pro","tier":"Gold","gptLimit":50,"sub_end":9999999999}
	}`)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "Membership handled successfully", bodyMap(t, resp)["message"])
	assert.Equal(t, 1, f.memberships.creates)
}

func TestDispatch_MembershipPayloadRequired(t *testing.T) {
	f := newFixture()
	resp := f.dispatch(t, `{"mode":"membership","email":"a@x.com","interest":"yoga"}`)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestDispatch_PowerplayCreate(t *testing.T) {
	f := newFixture()
	f.workflow.createOut = map[string]any{"email": "a@x.com", "topic": "yoga"}

	resp := f.dispatch(t, `{"mode":"powerplay-create","user":{"email":"a@x.com","topic":"yoga"}}`)

	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, "yoga", f.workflow.lastPayload["topic"])
	assert.Equal(t, "PowerPlay created", bodyMap(t, resp)["message"])
}

func TestDispatch_PowerplayCreateMissingEmail(t *testing.T) {
	f := newFixture()
	f.workflow.createErr = workflow.ErrMissingEmail

	resp := f.dispatch(t, `{"mode":"powerplay-create","user":{"topic":"yoga"}}`)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestDispatch_PowerplayStep(t *testing.T) {
	f := newFixture()
	f.workflow.stepOut = map[string]any{"email": "a@x.com", "patched": true}

	resp := f.dispatch(t, `{"mode":"powerplay","email":"a@x.com","platform":"pinterest","step":2}`)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, f.workflow.lastStep)
	assert.Equal(t, "pinterest", f.workflow.lastPlatform)
}

func TestDispatch_PowerplayStepErrorsMapped(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unsupported step", workflow.ErrUnsupportedStep, 400},
		{"missing prerequisite", workflow.ErrMissingPrerequisite, 400},
		{"bad output", &workflow.GenerationOutputError{Step: 2, Raw: "1. Hot yoga", Err: errors.New("invalid character")}, 500},
		{"store failure", errors.New("table unavailable"), 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.workflow.stepErr = tc.err
			resp := f.dispatch(t, `{"mode":"powerplay","email":"a@x.com","step":2}`)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestDispatch_GenerationOutputErrorCarriesRaw(t *testing.T) {
	f := newFixture()
	f.workflow.stepErr = &workflow.GenerationOutputError{Step: 2, Raw: "1. Hot yoga", Err: errors.New("invalid character '1'")}

	resp := f.dispatch(t, `{"mode":"powerplay","email":"a@x.com","step":2}`)
	assert.Equal(t, "1. Hot yoga", bodyMap(t, resp)["raw"])
}

func TestDispatch_WebhookGetsResponsePayload(t *testing.T) {
	f := newFixture()

	resp := f.dispatch(t, `{"email":"a@x.com","interest":"yoga","destinationWebhook":"https://hooks.example.com/x"}`)

	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, f.notifier.calls)
	assert.Equal(t, "https://hooks.example.com/x", f.notifier.lastURL)
	assert.Equal(t, resp.Body, f.notifier.payload, "webhook carries the response body")
}

func TestDispatch_WebhookFailureDoesNotAlterResponse(t *testing.T) {
	f := newFixture()
	f.notifier.status = notify.StatusFailed

	resp := f.dispatch(t, `{"email":"a@x.com","interest":"yoga","destinationWebhook":"https://hooks.example.com/x"}`)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestDispatch_RateLimitAnswers429(t *testing.T) {
	f := newFixture()
	f.deps.Limiter = ratelimit.New(0.01, 1)
	d := New(f.deps)

	first := d.Dispatch(context.Background(), []byte(`{"email":"a@x.com","interest":"yoga"}`))
	second := d.Dispatch(context.Background(), []byte(`{"email":"a@x.com","interest":"yoga"}`))

	assert.Equal(t, 200, first.StatusCode)
	assert.Equal(t, 429, second.StatusCode)
	assert.Equal(t, 1, f.cache.calls)
}

func TestDispatch_RateLimitSkipsNonGenerativeModes(t *testing.T) {
	f := newFixture()
	f.deps.Limiter = ratelimit.New(0.01, 1)
	d := New(f.deps)

	for i := 0; i < 3; i++ {
		resp := d.Dispatch(context.Background(), []byte(`{"mode":"user","email":"a@x.com","interest":"yoga"}`))
		assert.Equal(t, 200, resp.StatusCode)
	}
}

func TestDispatch_AuditRecordsOutcome(t *testing.T) {
	f := newFixture()
	f.cache.result.FromCache = true

	f.dispatch(t, `{"email":"a@x.com","interest":"yoga"}`)

	require.Len(t, f.audit.entries, 1)
	entry := f.audit.entries[0]
	assert.Equal(t, "funnel", entry.Mode)
	assert.Equal(t, "a@x.com", entry.Email)
	assert.Equal(t, 202, entry.Status)
	assert.True(t, entry.CacheHit)
	assert.NotEmpty(t, entry.ID)
}

func TestDispatch_AuditFailureIsSwallowed(t *testing.T) {
	f := newFixture()
	f.audit.err = errors.New("disk full")

	resp := f.dispatch(t, `{"email":"a@x.com","interest":"yoga"}`)
	assert.Equal(t, 200, resp.StatusCode)
}
