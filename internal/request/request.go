// ABOUTME: Typed request envelope with mode selector, normalization, and validation
// ABOUTME: Normalizes identity fields once at the boundary before dispatch

package request

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Mode selects which orchestration path a request follows.
type Mode string

// Recognized modes. ModeFunnel is the default when the selector is absent.
const (
	ModeFunnel          Mode = "funnel"
	ModeSearch          Mode = "search"
	ModeUser            Mode = "user"
	ModeMembership      Mode = "membership"
	ModePassionProduct  Mode = "passion-product"
	ModePowerplayCreate Mode = "powerplay-create"
	ModePowerplay       Mode = "powerplay"
)

// DefaultMethod is the HTTP verb used for upstream create calls when the
// request does not specify one.
const DefaultMethod = "post"

// Membership carries the membership payload for membership-mode requests.
type Membership struct {
	Plan          string  `json:"plan"`
	Tier          string  `json:"tier"`
	PaymentFreq   string  `json:"payment_freq"`
	PaymentAmount float64 `json:"payment_amount"`
	GPTLimit      int     `json:"gptLimit"`
	GPTCount      int     `json:"gptCount"`
	SubStart      int64   `json:"sub_start"`
	SubEnd        int64   `json:"sub_end"`
}

// Envelope is the raw inbound request body. Optional fields stay zero-valued;
// normalization and per-mode validation happen in Parse.
type Envelope struct {
	Email              string         `json:"email"`
	FirstName          string         `json:"firstName"`
	LastName           string         `json:"lastName"`
	Business           string         `json:"business"`
	GPT                string         `json:"gpt"`
	Interest           string         `json:"interest"`
	DestinationWebhook string         `json:"destinationWebhook"`
	Mode               Mode           `json:"mode"`
	Method             string         `json:"method"`
	Membership         *Membership    `json:"membership"`
	Step               int            `json:"step"`
	Platform           string         `json:"platform"`
	User               map[string]any `json:"user"`
}

// Request is a normalized, validated request ready for dispatch.
type Request struct {
	Envelope

	// Keyword is the normalized prompt keyword: the interest field when
	// present, otherwise the gpt field, trimmed and lower-cased.
	Keyword string
}

// MissingFieldsError reports which required fields were absent, echoing the
// offending values to aid debugging.
type MissingFieldsError struct {
	Fields map[string]string
}

func (e *MissingFieldsError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required fields: %s", strings.Join(names, ", "))
}

// Parse decodes a JSON request body into a normalized Request.
// Email is lower-cased, the prompt keyword is trimmed and lower-cased with
// interest taking precedence over gpt, and mode/method defaults are applied.
func Parse(body []byte) (*Request, error) {
	var env Envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decoding request body: %w", err)
		}
	}
	return Normalize(env), nil
}

// Normalize applies identity normalization and defaults to an envelope.
func Normalize(env Envelope) *Request {
	env.Email = strings.ToLower(strings.TrimSpace(env.Email))

	if env.Mode == "" {
		env.Mode = ModeFunnel
	}
	if env.Method == "" {
		env.Method = DefaultMethod
	}
	env.Method = strings.ToLower(strings.TrimSpace(env.Method))

	keyword := env.Interest
	if strings.TrimSpace(keyword) == "" {
		keyword = env.GPT
	}
	keyword = strings.ToLower(strings.TrimSpace(keyword))

	return &Request{Envelope: env, Keyword: keyword}
}

// SkipsValidation reports whether the mode bypasses the common required-field
// check. The workflow modes and passion-product carry their own payloads and
// validate them in their handlers.
func (r *Request) SkipsValidation() bool {
	switch r.Mode {
	case ModePassionProduct, ModePowerplay, ModePowerplayCreate:
		return true
	}
	return false
}

// Validate enforces the common required fields for modes that need them:
// a non-empty normalized email, a non-empty normalized prompt keyword, and a
// non-empty mode. Returns a MissingFieldsError listing what was absent.
func (r *Request) Validate() error {
	if r.SkipsValidation() {
		return nil
	}

	missing := make(map[string]string)
	if r.Email == "" {
		missing["email"] = r.Envelope.Email
	}
	if r.Keyword == "" {
		missing["interest"] = r.Envelope.Interest
	}
	if r.Mode == "" {
		missing["mode"] = string(r.Envelope.Mode)
	}

	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}
