// ABOUTME: Powerplay workflow engine: record creation and step execution
// ABOUTME: Each step reads accumulated state, generates, and writes one merge-patch

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/funnelworks/funnel-gateway/internal/upstream"
)

var (
	// ErrUnsupportedStep marks a (platform, step) pair with no table entry.
	ErrUnsupportedStep = errors.New("unsupported workflow step")

	// ErrMissingPrerequisite marks a step whose required state is absent.
	ErrMissingPrerequisite = errors.New("missing workflow prerequisite")

	// ErrMissingEmail marks a creation payload without an identity field.
	ErrMissingEmail = errors.New("missing required field: email")

	// ErrCreationFailed wraps store failures during record creation.
	ErrCreationFailed = errors.New("powerplay creation failed")
)

// GenerationOutputError reports provider output that did not parse as the
// JSON object the step expected. Raw carries the text for diagnostics.
type GenerationOutputError struct {
	Step int
	Raw  string
	Err  error
}

func (e *GenerationOutputError) Error() string {
	return fmt.Sprintf("step %d produced unparseable output: %v", e.Step, e.Err)
}

func (e *GenerationOutputError) Unwrap() error { return e.Err }

// Store is the slice of the powerplay store the engine needs.
type Store interface {
	Create(ctx context.Context, method string, payload map[string]any) (map[string]any, error)
	List(ctx context.Context, email string) ([]map[string]any, error)
	Patch(ctx context.Context, email string, step int, fields map[string]any) (map[string]any, error)
}

// Generator produces content for a step prompt.
type Generator interface {
	Generate(ctx context.Context, req upstream.GenerationRequest) (*upstream.GenerationRecord, error)
}

// Engine runs the multi-step workflow against a powerplay store and a
// generation provider.
type Engine struct {
	store     Store
	generator Generator
	steps     map[StepKey]StepSpec
	logger    *slog.Logger
}

func NewEngine(store Store, generator Generator, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		generator: generator,
		steps:     Steps(),
		logger:    logger.With("component", "workflow"),
	}
}

// Create starts a workflow by posting the user-info payload to the store,
// which seeds the record skeleton. The payload must carry an email.
func (e *Engine) Create(ctx context.Context, method string, userInfo map[string]any) (map[string]any, error) {
	email, _ := userInfo["email"].(string)
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrMissingEmail
	}

	payload := make(map[string]any, len(userInfo))
	for key, value := range userInfo {
		payload[key] = value
	}
	payload["email"] = email

	record, err := e.store.Create(ctx, method, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	e.logger.Info("powerplay created", "email", email)
	return record, nil
}

// RunStep executes one configured step: look up the table entry, load the
// accumulated record, check prerequisites, generate, parse, and write a
// single merge-patch. On any failure before the patch, no write happens.
func (e *Engine) RunStep(ctx context.Context, email, platform string, step int) (map[string]any, error) {
	if platform == "" {
		platform = DefaultPlatform
	}

	spec, ok := e.steps[StepKey{Platform: platform, Step: step}]
	if !ok {
		return nil, fmt.Errorf("%w: platform %q step %d", ErrUnsupportedStep, platform, step)
	}

	records, err := e.store.List(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("loading powerplay state: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no powerplay record for %s", ErrMissingPrerequisite, email)
	}
	state := records[0]

	for _, path := range spec.Requires {
		value, found := lookupPath(state, path)
		if !found || !hasContent(value) {
			return nil, fmt.Errorf("%w: %s", ErrMissingPrerequisite, path)
		}
	}

	record, err := e.generator.Generate(ctx, upstream.GenerationRequest{
		Prompt:   spec.BuildPrompt(state),
		Keyword:  stepKeyword(email, platform, spec.Name),
		Promo:    spec.Promo,
		GPTInput: spec.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("generating %s content: %w", spec.Name, err)
	}

	parsed, raw, err := parseStepOutput(record.Response)
	if err != nil {
		return nil, &GenerationOutputError{Step: step, Raw: raw, Err: err}
	}

	updated, err := e.store.Patch(ctx, email, step, spec.PatchKeys(parsed))
	if err != nil {
		return nil, fmt.Errorf("patching powerplay record: %w", err)
	}

	e.logger.Info("powerplay step complete", "email", email, "platform", platform, "step", step, "field", spec.Name)
	return updated, nil
}

// lineComment matches // comments that start a line or follow whitespace, so
// the :// in URLs inside string values survives.
var lineComment = regexp.MustCompile(`(?m)(^|\s)//[^\n]*`)

// parseStepOutput decodes provider output into the JSON object a step
// expects. The provider may return the object directly or as a string,
// sometimes annotated with // line comments.
func parseStepOutput(response json.RawMessage) (map[string]any, string, error) {
	text := string(response)
	var unquoted string
	if err := json.Unmarshal(response, &unquoted); err == nil {
		text = unquoted
	}

	cleaned := lineComment.ReplaceAllString(text, "$1")

	var parsed map[string]any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, text, err
	}
	return parsed, text, nil
}

// stepKeyword keys the generation store per user and step so workflow output
// never collides with keyword-cached funnel content.
func stepKeyword(email, platform, name string) string {
	return email + ":" + platform + ":" + name
}
