package vsa

import (
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/secure-systems-lab/go-securesystemslib/dsse"

	"github.com/meigma/trustpolicy/provenance"
	"github.com/meigma/trustpolicy/verdict"
)

// Statement and predicate types of a verification summary.
const (
	StatementType = provenance.StatementType
	PredicateType = "https://slsa.dev/verification_summary/v1"
	PayloadType   = provenance.DSSEPayloadType
)

// DefaultVerifierID identifies this tool as the verifier.
const DefaultVerifierID = "https://github.com/meigma/trustpolicy"

// Result is the overall verification result.
type Result string

// Verification results.
const (
	Passed Result = "PASSED"
	Failed Result = "FAILED"
)

// Statement is an in-toto v1 statement carrying a verification summary.
type Statement struct {
	Type          string               `json:"_type"`
	Subject       []ResourceDescriptor `json:"subject"`
	PredicateType string               `json:"predicateType"`
	Predicate     Predicate            `json:"predicate"`
}

// ResourceDescriptor identifies an artifact by URI and digest.
type ResourceDescriptor struct {
	URI    string            `json:"uri,omitempty"`
	Digest map[string]string `json:"digest,omitempty"`
}

// Predicate is the SLSA verification summary predicate.
type Predicate struct {
	Verifier           Verifier `json:"verifier"`
	TimeVerified       string   `json:"timeVerified"`
	ResourceURI        string   `json:"resourceUri"`
	Policy             Policy   `json:"policy"`
	VerificationResult Result   `json:"verificationResult"`
	VerifiedLevels     []string `json:"verifiedLevels"`
}

// Verifier identifies the party that performed the verification.
type Verifier struct {
	ID      string            `json:"id"`
	Version map[string]string `json:"version,omitempty"`
}

// Policy describes the policy that was evaluated. Annotations summarise the
// per-policy outcome.
type Policy struct {
	URI         string            `json:"uri,omitempty"`
	Digest      map[string]string `json:"digest"`
	Content     string            `json:"content"`
	Annotations PolicySummary     `json:"annotations"`
}

// PolicySummary lists the evaluated policy identifiers by outcome.
type PolicySummary struct {
	Passed        []string `json:"passed_policies"`
	Failed        []string `json:"failed_policies"`
	NotApplicable []string `json:"not_applicable_policies"`
}

// Subject is the metadata emitted for one target.
type Subject struct {
	// PURL is the package URL of the target component.
	PURL string `json:"purl"`

	// SHA256 is the hex sha256 digest of the built artifact, if known.
	SHA256 string `json:"sha256,omitempty"`
}

// Subjects maps target ids to their metadata.
type Subjects map[int64]Subject

// Attestation is an emitted verification summary.
type Attestation struct {
	// ID is derived from the payload and the verifier id.
	ID uuid.UUID

	Statement *Statement

	// Payload is the serialized statement carried by Envelope.
	Payload []byte

	// Envelope is the DSSE envelope, signed when a signer was configured.
	Envelope *dsse.Envelope
}

// WriteJSON writes the DSSE envelope as indented JSON.
func (a *Attestation) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a.Envelope)
}

// Emit builds the verification summary for r. Every target referenced by a
// verdict must be present in subjects. The result is PASSED iff no policy
// failed.
func Emit(ctx context.Context, r *verdict.Report, subjects Subjects, opts ...Option) (*Attestation, error) {
	e := &emitter{verifierID: DefaultVerifierID, levels: []string{}}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.timeVerified.IsZero() {
		return nil, &EmissionError{Reason: "no verification time supplied"}
	}
	if r == nil || len(r.Verdicts) == 0 {
		return nil, &EmissionError{Reason: "report has no verdicts"}
	}

	descriptors, err := e.subjects(r, subjects)
	if err != nil {
		return nil, err
	}
	purls := make([]string, len(descriptors))
	for i, d := range descriptors {
		purls[i] = d.URI
	}

	result := Failed
	if r.ExitCode() == verdict.ExitPassed {
		result = Passed
	}

	stmt := &Statement{
		Type:          StatementType,
		Subject:       descriptors,
		PredicateType: PredicateType,
		Predicate: Predicate{
			Verifier:     Verifier{ID: e.verifierID, Version: e.verifierVersion},
			TimeVerified: e.timeVerified.UTC().Format(time.RFC3339Nano),
			ResourceURI:  CommonPURL(purls),
			Policy: Policy{
				URI:     e.policyURI,
				Digest:  map[string]string{string(digest.SHA256): digest.FromString(e.policy).Encoded()},
				Content: e.policy,
				Annotations: PolicySummary{
					Passed:        nonNil(r.Passed),
					Failed:        nonNil(r.Failed),
					NotApplicable: nonNil(r.NotApplicable),
				},
			},
			VerificationResult: result,
			VerifiedLevels:     e.levels,
		},
	}

	payload, err := json.Marshal(stmt)
	if err != nil {
		return nil, fmt.Errorf("vsa: marshal statement: %w", err)
	}

	env, err := e.envelope(ctx, payload)
	if err != nil {
		return nil, err
	}

	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte(e.verifierID))
	att := &Attestation{
		ID:        uuid.NewSHA1(ns, payload),
		Statement: stmt,
		Payload:   payload,
		Envelope:  env,
	}
	e.log().Debug("emitted verification summary",
		slog.String("id", att.ID.String()),
		slog.String("result", string(result)),
		slog.Int("subjects", len(descriptors)),
		slog.Bool("signed", e.signer != nil))
	return att, nil
}

// subjects resolves the report's targets to descriptors. Targets sharing a
// package URL collapse into one descriptor, keeping the highest target id.
func (e *emitter) subjects(r *verdict.Report, subjects Subjects) ([]ResourceDescriptor, error) {
	latest := make(map[string]int64)
	for _, target := range r.Targets() {
		s, ok := subjects[target]
		if !ok {
			return nil, &EmissionError{Target: target, Reason: "target missing from subject metadata"}
		}
		if s.PURL == "" {
			return nil, &EmissionError{Target: target, Reason: "subject has no package URL"}
		}
		if s.SHA256 != "" {
			if err := digest.NewDigestFromEncoded(digest.SHA256, s.SHA256).Validate(); err != nil {
				return nil, &EmissionError{Target: target, Reason: fmt.Sprintf("invalid sha256 digest %q: %v", s.SHA256, err)}
			}
		}
		if prev, ok := latest[s.PURL]; !ok || target > prev {
			latest[s.PURL] = target
		}
	}

	out := make([]ResourceDescriptor, 0, len(latest))
	for purl, target := range latest {
		d := ResourceDescriptor{URI: purl}
		if sha := subjects[target].SHA256; sha != "" {
			d.Digest = map[string]string{string(digest.SHA256): sha}
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b ResourceDescriptor) int { return cmp.Compare(a.URI, b.URI) })
	return out, nil
}

func (e *emitter) envelope(ctx context.Context, payload []byte) (*dsse.Envelope, error) {
	if e.signer == nil {
		return &dsse.Envelope{
			PayloadType: PayloadType,
			Payload:     base64.StdEncoding.EncodeToString(payload),
			Signatures:  []dsse.Signature{},
		}, nil
	}
	es, err := dsse.NewEnvelopeSigner(e.signer)
	if err != nil {
		return nil, fmt.Errorf("vsa: create envelope signer: %w", err)
	}
	env, err := es.SignPayload(ctx, PayloadType, payload)
	if err != nil {
		return nil, fmt.Errorf("vsa: sign statement: %w", err)
	}
	return env, nil
}

// Verify checks env against the given verifiers and decodes its statement.
// With no verifiers only the envelope structure is checked.
func Verify(ctx context.Context, env *dsse.Envelope, verifiers ...dsse.Verifier) (*Statement, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrVerification)
	}
	if env.PayloadType != PayloadType {
		return nil, fmt.Errorf("%w: unexpected payload type %q", ErrVerification, env.PayloadType)
	}
	if len(verifiers) > 0 {
		ev, err := dsse.NewEnvelopeVerifier(verifiers...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerification, err)
		}
		if _, err := ev.Verify(ctx, env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerification, err)
		}
	}

	payload, err := env.DecodeB64Payload()
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrVerification, err)
	}
	var stmt Statement
	if err := json.Unmarshal(payload, &stmt); err != nil {
		return nil, fmt.Errorf("%w: decode statement: %v", ErrVerification, err)
	}
	if stmt.Type != StatementType || stmt.PredicateType != PredicateType {
		return nil, fmt.Errorf("%w: not a verification summary (%s, %s)", ErrVerification, stmt.Type, stmt.PredicateType)
	}
	return &stmt, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
