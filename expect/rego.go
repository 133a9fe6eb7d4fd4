package expect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/opencontainers/go-digest"
)

// DefaultPackage is the Rego package expectations are written in.
const DefaultPackage = "expectation"

// RegoValidator implements Validator for Rego expectation modules.
// Compiled modules are cached by content digest.
type RegoValidator struct {
	pkg    string
	logger *slog.Logger

	mu       sync.Mutex
	compiled map[digest.Digest]*compiledModule
}

type compiledModule struct {
	query *rego.PreparedEvalQuery
	err   error
}

// NewRegoValidator creates a Rego-backed validator.
func NewRegoValidator(opts ...Option) (*RegoValidator, error) {
	v := &RegoValidator{
		pkg:      DefaultPackage,
		logger:   slog.New(slog.DiscardHandler),
		compiled: make(map[digest.Digest]*compiledModule),
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, fmt.Errorf("expect: %w", err)
		}
	}
	return v, nil
}

// ExtractTarget implements Validator. The target is the string value of the
// module's target rule.
func (v *RegoValidator) ExtractTarget(ctx context.Context, expectation []byte) (string, bool) {
	query, err := v.prepare(ctx, expectation)
	if err != nil {
		return "", false
	}
	result, ok := v.eval(ctx, query, map[string]any{})
	if !ok {
		return "", false
	}
	target, ok := result["target"].(string)
	return target, ok && target != ""
}

// Validate implements Validator. The candidate is decoded as JSON and passed
// to the module as input.
func (v *RegoValidator) Validate(ctx context.Context, expectation, candidate []byte) Outcome {
	query, err := v.prepare(ctx, expectation)
	if err != nil {
		return SchemaInvalid
	}

	var input any
	if err := json.Unmarshal(candidate, &input); err != nil {
		v.log().Debug("candidate is not JSON", slog.Any("error", err))
		return Violates
	}

	result, ok := v.eval(ctx, query, input)
	if !ok {
		return SchemaInvalid
	}
	if denied(result) {
		return Violates
	}
	if allow, ok := result["allow"].(bool); ok && allow {
		return Conforms
	}
	return Violates
}

// Identity implements Identifier.
func (v *RegoValidator) Identity() string {
	return "rego/" + v.pkg
}

func (v *RegoValidator) prepare(ctx context.Context, src []byte) (*rego.PreparedEvalQuery, error) {
	key := digest.FromBytes(src)

	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.compiled[key]; ok {
		return c.query, c.err
	}

	c := &compiledModule{}
	query, err := rego.New(
		rego.Query("data."+v.pkg),
		rego.Module(key.Encoded()[:12]+".rego", string(src)),
	).PrepareForEval(ctx)
	if err != nil {
		v.log().Debug("expectation does not compile",
			slog.String("digest", key.String()),
			slog.Any("error", err))
		c.err = err
	} else {
		c.query = &query
	}
	v.compiled[key] = c
	return c.query, c.err
}

func (v *RegoValidator) eval(ctx context.Context, query *rego.PreparedEvalQuery, input any) (map[string]any, bool) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		v.log().Debug("expectation evaluation failed", slog.Any("error", err))
		return nil, false
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, false
	}
	result, ok := results[0].Expressions[0].Value.(map[string]any)
	return result, ok
}

// denied reports whether the module's deny set is non-empty.
func denied(result map[string]any) bool {
	deny, ok := result["deny"].([]any)
	return ok && len(deny) > 0
}

func (v *RegoValidator) log() *slog.Logger {
	if v.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return v.logger
}

var _ Validator = (*RegoValidator)(nil)
