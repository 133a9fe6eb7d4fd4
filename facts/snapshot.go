package facts

import (
	"bytes"
	"encoding/json"
)

// Snapshot is the immutable output of one supply-chain analysis run: the
// components that were analyzed and everything recorded about them.
type Snapshot struct {
	Components   []Component   `json:"components,omitempty" yaml:"components,omitempty"`
	Repositories []Repository  `json:"repositories,omitempty" yaml:"repositories,omitempty"`
	Checks       []CheckResult `json:"checks,omitempty" yaml:"checks,omitempty"`
	Dependencies []Dependency  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Provenances  []Provenance  `json:"provenances,omitempty" yaml:"provenances,omitempty"`
	Expectations []Expectation `json:"expectations,omitempty" yaml:"expectations,omitempty"`
	Documents    []Document    `json:"documents,omitempty" yaml:"documents,omitempty"`

	// Relations holds raw rows for extensional relations, keyed by relation
	// name. Rows are type-checked against the schema.
	Relations map[string][][]any `json:"relations,omitempty" yaml:"relations,omitempty"`
}

// Component is one analyzed software component. Ids are non-zero; zero
// means "no component" in the records that reference one.
type Component struct {
	ID   int64  `json:"id" yaml:"id"`
	PURL string `json:"purl" yaml:"purl"`
}

// Repository is the source repository a component was built from.
type Repository struct {
	ID           int64  `json:"id" yaml:"id"`
	ComponentID  int64  `json:"component_id" yaml:"component_id"`
	CompleteName string `json:"complete_name" yaml:"complete_name"`
	RemotePath   string `json:"remote_path" yaml:"remote_path"`
	BranchName   string `json:"branch_name,omitempty" yaml:"branch_name,omitempty"`
	ReleaseTag   string `json:"release_tag,omitempty" yaml:"release_tag,omitempty"`
	CommitSHA    string `json:"commit_sha,omitempty" yaml:"commit_sha,omitempty"`
	CommitDate   string `json:"commit_date,omitempty" yaml:"commit_date,omitempty"`
}

// CheckResult is the outcome of one analysis check on one component.
type CheckResult struct {
	ID          int64       `json:"id" yaml:"id"`
	CheckID     string      `json:"check_id" yaml:"check_id"`
	Passed      bool        `json:"passed" yaml:"passed"`
	ComponentID int64       `json:"component_id" yaml:"component_id"`
	Facts       []CheckFact `json:"facts,omitempty" yaml:"facts,omitempty"`
}

// CheckFact is one piece of evidence behind a check result, with the
// confidence the check placed in it.
type CheckFact struct {
	ID         int64   `json:"id" yaml:"id"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// Dependency is a direct dependency edge between two components.
type Dependency struct {
	Parent     int64 `json:"parent" yaml:"parent"`
	Dependency int64 `json:"dependency" yaml:"dependency"`
}

// Provenance is a build provenance document recorded for a component. The
// payload is a Sigstore bundle, a DSSE envelope or a bare in-toto statement.
type Provenance struct {
	ID          int64  `json:"id" yaml:"id"`
	ComponentID int64  `json:"component_id" yaml:"component_id"`
	Payload     string `json:"payload" yaml:"payload"`
}

// Expectation constrains the provenance of a component. When ComponentID is
// zero the target is taken from the document itself.
type Expectation struct {
	ID          int64  `json:"id" yaml:"id"`
	ComponentID int64  `json:"component_id,omitempty" yaml:"component_id,omitempty"`
	Document    string `json:"document" yaml:"document"`
}

// Document is a named structured document made available to policies
// through the json_* relations.
type Document struct {
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value" yaml:"value"`
}

// UnmarshalJSON rejects documents whose value repeats an object key at any
// depth. Numbers are kept as json.Number.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	d.Name = raw.Name
	d.Value = nil
	if len(raw.Value) == 0 {
		return nil
	}
	if _, err := FromJSON(raw.Value); err != nil {
		return schemaErr(RelJSONRoot, "document %q: %v", raw.Name, err)
	}
	dec = json.NewDecoder(bytes.NewReader(raw.Value))
	dec.UseNumber()
	return dec.Decode(&d.Value)
}
