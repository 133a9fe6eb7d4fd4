package trustpolicy

import "runtime/debug"

const modulePath = "github.com/meigma/trustpolicy"

// Version reports the module version this binary was built from, or
// "(devel)" for untagged builds.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "(devel)"
	}
	if info.Main.Path == modulePath && info.Main.Version != "" {
		return info.Main.Version
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			return dep.Version
		}
	}
	return "(devel)"
}
