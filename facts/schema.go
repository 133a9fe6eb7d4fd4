package facts

import "github.com/meigma/trustpolicy/datalog"

// Extensional relation names.
const (
	RelComponent               = "component"
	RelRepository              = "repository"
	RelCheckResult             = "check_result"
	RelCheckFacts              = "check_facts"
	RelDependency              = "dependency"
	RelProvenance              = "provenance"
	RelProvenanceSubjectDigest = "provenance_subject_digest"
	RelProvenanceSubject       = "provenance_subject"
	RelExpectation             = "expectation"
	RelExpectationResult       = "expectation_result"
	RelJSONRoot                = "json_root"
	RelJSONObject              = "json_object"
	RelJSONArray               = "json_array"
	RelJSONInt                 = "json_int"
	RelJSONFloat               = "json_float"
	RelJSONStr                 = "json_str"
	RelJSONBool                = "json_bool"
	RelJSONNull                = "json_null"
)

func numCol(name string) datalog.Column { return datalog.Column{Name: name, Type: datalog.TypeNumber} }
func symCol(name string) datalog.Column { return datalog.Column{Name: name, Type: datalog.TypeSymbol} }

func decl(name string, cols ...datalog.Column) datalog.Decl {
	return datalog.Decl{Name: name, Columns: cols}
}

var schema = []datalog.Decl{
	decl(RelComponent, numCol("id"), symCol("purl")),
	decl(RelRepository, numCol("id"), numCol("component_id"), symCol("complete_name"), symCol("remote_path"),
		symCol("branch_name"), symCol("release_tag"), symCol("commit_sha"), symCol("commit_date")),
	decl(RelCheckResult, numCol("id"), symCol("check_id"), numCol("passed"), numCol("component_id")),
	decl(RelCheckFacts, numCol("id"), numCol("check_result_id"),
		datalog.Column{Name: "confidence", Type: datalog.TypeFloat}, numCol("component_id")),
	decl(RelDependency, numCol("parent"), numCol("dependency")),
	decl(RelProvenance, numCol("id"), numCol("component_id"), symCol("predicate_type"), symCol("builder_id"),
		symCol("build_type"), symCol("source_repo"), symCol("source_ref"), symCol("source_digest"), numCol("payload")),
	decl(RelProvenanceSubjectDigest, numCol("provenance_id"), symCol("name"), symCol("algorithm"), symCol("digest")),
	decl(RelProvenanceSubject, numCol("component_id"), symCol("sha256")),
	decl(RelExpectation, numCol("id"), numCol("component_id"), symCol("target")),
	decl(RelExpectationResult, numCol("expectation_id"), numCol("provenance_id"), numCol("passed"), symCol("outcome")),
	decl(RelJSONRoot, symCol("name"), numCol("handle")),
	decl(RelJSONObject, numCol("handle"), symCol("key"), numCol("child")),
	decl(RelJSONArray, numCol("handle"), numCol("index"), numCol("child")),
	decl(RelJSONInt, numCol("handle"), numCol("value")),
	decl(RelJSONFloat, numCol("handle"), datalog.Column{Name: "value", Type: datalog.TypeFloat}),
	decl(RelJSONStr, numCol("handle"), symCol("value")),
	decl(RelJSONBool, numCol("handle"), datalog.Column{Name: "value", Type: datalog.TypeBool}),
	decl(RelJSONNull, numCol("handle")),
}

// handleColumns lists, per relation, the columns holding document handles.
var handleColumns = map[string][]int{
	RelProvenance: {8},
	RelJSONRoot:   {1},
	RelJSONObject: {0, 2},
	RelJSONArray:  {0, 2},
	RelJSONInt:    {0},
	RelJSONFloat:  {0},
	RelJSONStr:    {0},
	RelJSONBool:   {0},
	RelJSONNull:   {0},
}

// Schema returns the extensional relations every fact base carries.
func Schema() []datalog.Decl {
	out := make([]datalog.Decl, len(schema))
	for i, d := range schema {
		d.Columns = append([]datalog.Column(nil), d.Columns...)
		out[i] = d
	}
	return out
}
