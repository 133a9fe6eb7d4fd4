package vsa

import (
	"github.com/package-url/packageurl-go"

	"github.com/meigma/trustpolicy/datalog"
	"github.com/meigma/trustpolicy/facts"
)

// SubjectsFrom collects subject metadata for every component in fb. A
// component with several recorded artifact digests uses the smallest.
func SubjectsFrom(fb *datalog.FactBase) Subjects {
	out := make(Subjects)
	for _, t := range fb.Tuples(facts.RelComponent) {
		out[t[0].Int()] = Subject{PURL: t[1].Str()}
	}
	// Tuples are sorted, so the first digest seen per component wins.
	for _, t := range fb.Tuples(facts.RelProvenanceSubject) {
		id := t[0].Int()
		s, ok := out[id]
		if !ok || s.SHA256 != "" {
			continue
		}
		s.SHA256 = t[1].Str()
		out[id] = s
	}
	return out
}

// CommonPURL returns the package URL shared by all purls, ignoring
// qualifiers and subpaths. It returns "" if purls is empty, if any fails to
// parse, or if they differ in type, namespace, name or version.
func CommonPURL(purls []string) string {
	if len(purls) == 0 {
		return ""
	}
	var common packageurl.PackageURL
	for i, s := range purls {
		p, err := packageurl.FromString(s)
		if err != nil {
			return ""
		}
		if i == 0 {
			common = p
			continue
		}
		if p.Type != common.Type || p.Namespace != common.Namespace ||
			p.Name != common.Name || p.Version != common.Version {
			return ""
		}
	}
	return packageurl.NewPackageURL(common.Type, common.Namespace, common.Name, common.Version, nil, "").ToString()
}
