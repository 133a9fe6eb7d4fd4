package trustpolicy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/secure-systems-lab/go-securesystemslib/dsse"

	"github.com/meigma/trustpolicy/datalog"
	"github.com/meigma/trustpolicy/expect"
	"github.com/meigma/trustpolicy/facts"
	"github.com/meigma/trustpolicy/internal/reportcache"
	"github.com/meigma/trustpolicy/prelude"
	"github.com/meigma/trustpolicy/verdict"
	"github.com/meigma/trustpolicy/vsa"
)

// Engine runs the verification pipeline: compile facts, evaluate the
// policy, classify and aggregate verdicts, and emit attestations.
type Engine struct {
	maxIterations int
	workers       int
	validator     expect.Validator
	cache         *reportcache.Cache
	verifierID    string
	signer        dsse.SignerVerifier
	logger        *slog.Logger
}

// Result is the outcome of one verification.
type Result struct {
	// RuleSet is the analyzed policy.
	RuleSet *datalog.RuleSet

	// Facts holds the extensional and derived facts. It is nil when the
	// report was served from the cache.
	Facts *datalog.FactBase

	Report *verdict.Report

	// Subjects holds the attestation metadata of every component.
	Subjects vsa.Subjects

	// Cached reports whether the report came from the cache.
	Cached bool
}

// New creates an engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{verifierID: vsa.DefaultVerifierID}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.validator == nil {
		v, err := expect.NewRegoValidator(expect.WithLogger(e.log()))
		if err != nil {
			return nil, err
		}
		e.validator = v
	}
	return e, nil
}

// Analyze parses policy and checks it against the prelude.
func (e *Engine) Analyze(name, policy string) (*datalog.RuleSet, error) {
	prog, err := datalog.Parse(name, policy)
	if err != nil {
		return nil, err
	}
	return prelude.Analyze(prog)
}

// Verify evaluates policy over snap. Authoring and input errors abort before
// evaluation; no partial report is returned on any error.
func (e *Engine) Verify(ctx context.Context, snap *facts.Snapshot, name, policy string) (*Result, error) {
	rs, err := e.Analyze(name, policy)
	if err != nil {
		return nil, err
	}

	var key digest.Digest
	identity, cacheable := e.validatorIdentity()
	if e.cache != nil && !cacheable {
		e.log().Debug("report cache skipped", slog.String("validator", fmt.Sprintf("%T", e.validator)))
	}
	cacheable = cacheable && e.cache != nil
	if cacheable {
		key, err = e.cacheKey(snap, policy, identity)
		if err != nil {
			return nil, err
		}
		if entry, ok := e.cache.Get(key); ok {
			e.log().Debug("report cache hit", slog.String("key", key.String()))
			return &Result{RuleSet: rs, Report: entry.Report, Subjects: entry.Subjects, Cached: true}, nil
		}
	}

	start := time.Now()
	fb, err := facts.Compile(ctx, snap, facts.WithValidator(e.validator), facts.WithLogger(e.log()))
	if err != nil {
		return nil, err
	}
	out, err := rs.Evaluate(ctx, fb,
		datalog.WithMaxIterations(e.maxIterations),
		datalog.WithWorkers(e.workers),
		datalog.WithLogger(e.log()))
	if err != nil {
		return nil, err
	}

	report := verdict.Aggregate(verdict.Classify(out, verdict.PolicyIDs(rs)...))
	res := &Result{
		RuleSet:  rs,
		Facts:    out,
		Report:   report,
		Subjects: vsa.SubjectsFrom(out),
	}
	e.log().Info("policy verified",
		slog.Int("passed", len(report.Passed)),
		slog.Int("failed", len(report.Failed)),
		slog.Int("not_applicable", len(report.NotApplicable)),
		slog.Int("facts", out.Size()),
		slog.Duration("elapsed", time.Since(start)))

	if cacheable {
		if err := e.cache.Put(key, &reportcache.Entry{Report: report, Subjects: res.Subjects}); err != nil {
			e.log().Warn("failed to cache report", slog.Any("error", err))
		}
	}
	return res, nil
}

// Attest emits a verification summary for res. policy is recorded in the
// predicate; at is the verification time.
func (e *Engine) Attest(ctx context.Context, res *Result, policy string, at time.Time, opts ...vsa.Option) (*vsa.Attestation, error) {
	base := []vsa.Option{
		vsa.WithVerifier(e.verifierID, map[string]string{"trustpolicy": Version()}),
		vsa.WithTimeVerified(at),
		vsa.WithPolicy(policy),
		vsa.WithLogger(e.log()),
	}
	if e.signer != nil {
		base = append(base, vsa.WithSigner(e.signer))
	}
	return vsa.Emit(ctx, res.Report, res.Subjects, append(base, opts...)...)
}

// Prelude returns the extensional declarations and built-in rules every
// policy is analyzed against.
func Prelude() string {
	return prelude.Resolved()
}

// cacheKey covers every input that can change the outcome, including the
// iteration cap and the validator deciding expectation results.
func (e *Engine) cacheKey(snap *facts.Snapshot, policy, validator string) (digest.Digest, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot for cache key: %w", err)
	}
	return reportcache.Key(data, []byte(policy), []byte(prelude.Source()),
		[]byte(Version()), []byte(strconv.Itoa(e.maxIterations)), []byte(validator)), nil
}

// validatorIdentity returns the cache identity of the configured validator,
// qualified by its concrete type.
func (e *Engine) validatorIdentity() (string, bool) {
	id, ok := e.validator.(expect.Identifier)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%T:%s", e.validator, id.Identity()), true
}

func (e *Engine) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}
