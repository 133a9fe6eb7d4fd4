package provenance

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/opencontainers/go-digest"
	"github.com/secure-systems-lab/go-securesystemslib/dsse"
)

// Supported SLSA provenance predicate types.
const (
	PredicateSLSAv1  = "https://slsa.dev/provenance/v1"
	PredicateSLSAv02 = "https://slsa.dev/provenance/v0.2"
)

// PredicateTypes are the supported SLSA provenance predicate types.
var PredicateTypes = []string{PredicateSLSAv1, PredicateSLSAv02}

// StatementType is the in-toto statement type this package understands.
const StatementType = "https://in-toto.io/Statement/v1"

// DSSEPayloadType is the expected payload type for in-toto statements.
const DSSEPayloadType = "application/vnd.in-toto+json"

// SigstoreBundleMediaType is the media type of Sigstore v0.3 bundles.
const SigstoreBundleMediaType = "application/vnd.dev.sigstore.bundle.v0.3+json"

// Provenance is the summary of one SLSA provenance statement.
type Provenance struct {
	// PredicateType is the SLSA predicate type (v1 or v0.2).
	PredicateType string

	// BuilderID is the builder identifier.
	// For SLSA v1: from runDetails.builder.id
	// For SLSA v0.2: from builder.id
	BuilderID string

	// BuildType is the declared build type.
	BuildType string

	// SourceRepo is the source repository URL.
	SourceRepo string

	// SourceRef is the git ref (branch, tag, or commit).
	SourceRef string

	// SourceDigest is the source commit SHA.
	SourceDigest string

	// WorkflowPath is the workflow file path (for GitHub Actions).
	WorkflowPath string

	// Subjects are the artifacts the statement is about.
	Subjects []Subject

	// Statement is the decoded in-toto statement JSON.
	Statement []byte

	// Predicate is the decoded predicate for advanced inspection.
	Predicate map[string]any
}

// Subject is one artifact named by a statement.
type Subject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

// SHA256 returns the subject's sha256 digest if it carries a valid one.
func (s Subject) SHA256() (digest.Digest, bool) {
	hex, ok := s.Digest["sha256"]
	if !ok {
		return "", false
	}
	d := digest.NewDigestFromEncoded(digest.SHA256, hex)
	if d.Validate() != nil {
		return "", false
	}
	return d, true
}

// Algorithms returns the subject's digest algorithms, sorted.
func (s Subject) Algorithms() []string {
	out := make([]string, 0, len(s.Digest))
	for alg := range s.Digest {
		out = append(out, alg)
	}
	sort.Strings(out)
	return out
}

type inTotoStatement struct {
	Type          string           `json:"_type"`
	PredicateType string           `json:"predicateType"`
	Subject       []Subject        `json:"subject"`
	Predicate     *json.RawMessage `json:"predicate"`
}

// sigstoreBundle wraps a DSSE envelope in Sigstore bundle format.
type sigstoreBundle struct {
	MediaType    string        `json:"mediaType"`
	DSSEEnvelope dsse.Envelope `json:"dsseEnvelope"`
}

// Parse extracts SLSA provenance from a Sigstore bundle, a DSSE envelope or
// a bare in-toto statement.
func Parse(data []byte) (*Provenance, error) {
	var bundle sigstoreBundle
	if err := json.Unmarshal(data, &bundle); err == nil && bundle.DSSEEnvelope.Payload != "" {
		return parseEnvelope(&bundle.DSSEEnvelope)
	}

	var probe struct {
		Type string `json:"_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProvenance, err)
	}
	if probe.Type != "" {
		return ParseStatement(data)
	}

	var envelope dsse.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProvenance, err)
	}
	return parseEnvelope(&envelope)
}

func parseEnvelope(envelope *dsse.Envelope) (*Provenance, error) {
	if envelope.PayloadType != DSSEPayloadType {
		return nil, fmt.Errorf("%w: unexpected payload type %q",
			ErrInvalidProvenance, envelope.PayloadType)
	}

	payload, err := base64.StdEncoding.DecodeString(envelope.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrInvalidProvenance, err)
	}
	return ParseStatement(payload)
}

// ParseStatement parses an unwrapped in-toto statement.
func ParseStatement(payload []byte) (*Provenance, error) {
	var stmt inTotoStatement
	if err := json.Unmarshal(payload, &stmt); err != nil {
		return nil, fmt.Errorf("%w: parse statement: %v", ErrInvalidProvenance, err)
	}
	if stmt.Type == "" {
		return nil, fmt.Errorf("%w: missing _type", ErrInvalidProvenance)
	}
	if !slices.Contains(PredicateTypes, stmt.PredicateType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPredicate, stmt.PredicateType)
	}

	var predicate map[string]any
	if stmt.Predicate != nil {
		if err := json.Unmarshal(*stmt.Predicate, &predicate); err != nil {
			return nil, fmt.Errorf("%w: parse predicate: %v", ErrInvalidProvenance, err)
		}
	}

	prov := &Provenance{
		PredicateType: stmt.PredicateType,
		Subjects:      stmt.Subject,
		Statement:     payload,
		Predicate:     predicate,
	}
	if stmt.PredicateType == PredicateSLSAv1 {
		extractSLSAv1(prov, predicate)
	} else {
		extractSLSAv02(prov, predicate)
	}
	return prov, nil
}

// extractSLSAv1 extracts fields from SLSA provenance v1 format.
func extractSLSAv1(prov *Provenance, predicate map[string]any) {
	if runDetails, ok := predicate["runDetails"].(map[string]any); ok {
		if builder, ok := runDetails["builder"].(map[string]any); ok {
			prov.BuilderID, _ = builder["id"].(string)
		}
	}

	buildDef, ok := predicate["buildDefinition"].(map[string]any)
	if !ok {
		return
	}
	prov.BuildType, _ = buildDef["buildType"].(string)

	if extParams, ok := buildDef["externalParameters"].(map[string]any); ok {
		// GitHub Actions format
		if workflow, ok := extParams["workflow"].(map[string]any); ok {
			prov.SourceRepo, _ = workflow["repository"].(string)
			prov.SourceRef, _ = workflow["ref"].(string)
			prov.WorkflowPath, _ = workflow["path"].(string)
		}
	}

	if resolvedDeps, ok := buildDef["resolvedDependencies"].([]any); ok {
		for _, dep := range resolvedDeps {
			depMap, ok := dep.(map[string]any)
			if !ok {
				continue
			}
			if uri, ok := depMap["uri"].(string); ok && prov.SourceRepo == "" {
				prov.SourceRepo = uri
			}
			if d, ok := depMap["digest"].(map[string]any); ok {
				if sha, ok := d["gitCommit"].(string); ok && prov.SourceDigest == "" {
					prov.SourceDigest = sha
				}
			}
		}
	}
}

// extractSLSAv02 extracts fields from SLSA provenance v0.2 format.
func extractSLSAv02(prov *Provenance, predicate map[string]any) {
	if builder, ok := predicate["builder"].(map[string]any); ok {
		prov.BuilderID, _ = builder["id"].(string)
	}
	prov.BuildType, _ = predicate["buildType"].(string)

	if invocation, ok := predicate["invocation"].(map[string]any); ok {
		if configSource, ok := invocation["configSource"].(map[string]any); ok {
			prov.SourceRepo, _ = configSource["uri"].(string)
			if d, ok := configSource["digest"].(map[string]any); ok {
				prov.SourceDigest, _ = d["sha1"].(string)
			}
			prov.WorkflowPath, _ = configSource["entryPoint"].(string)
		}
	}

	if materials, ok := predicate["materials"].([]any); ok {
		for _, mat := range materials {
			matMap, ok := mat.(map[string]any)
			if !ok {
				continue
			}
			if uri, ok := matMap["uri"].(string); ok && prov.SourceRepo == "" {
				prov.SourceRepo = uri
			}
			if d, ok := matMap["digest"].(map[string]any); ok {
				if sha, ok := d["sha1"].(string); ok && prov.SourceDigest == "" {
					prov.SourceDigest = sha
				}
			}
		}
	}
}
