package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/package-url/packageurl-go"

	"github.com/meigma/trustpolicy/datalog"
	"github.com/meigma/trustpolicy/expect"
	"github.com/meigma/trustpolicy/provenance"
)

// CheckIDPattern is the form every check identifier must take.
var CheckIDPattern = regexp.MustCompile(`^mcn_([a-z]+_)+([0-9]+)$`)

// Option configures Compile.
type Option func(*compiler)

// WithValidator sets the oracle used to evaluate provenance expectations.
// Defaults to a Rego validator.
func WithValidator(v expect.Validator) Option {
	return func(c *compiler) {
		c.validator = v
	}
}

// WithLogger sets the logger for compilation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *compiler) {
		c.logger = logger
	}
}

type compiler struct {
	fb        *datalog.FactBase
	validator expect.Validator
	logger    *slog.Logger

	handle      int64
	purls       map[int64]string
	provenances []compiledProvenance
}

type compiledProvenance struct {
	id        int64
	component int64
	statement []byte
}

// Compile turns a snapshot into a fact base over the extensional schema.
// Every malformed record is reported as a *datalog.SchemaError naming the
// relation it would have populated. Duplicate records collapse.
func Compile(ctx context.Context, snap *Snapshot, opts ...Option) (*datalog.FactBase, error) {
	fb, err := datalog.NewFactBase(Schema()...)
	if err != nil {
		return nil, err
	}
	c := &compiler{
		fb:     fb,
		logger: slog.New(slog.DiscardHandler),
		purls:  make(map[int64]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if snap == nil {
		return fb, nil
	}

	// Raw rows go first so generated document handles never collide with
	// handles they use.
	if err := c.relations(snap.Relations); err != nil {
		return nil, err
	}
	c.handle = maxHandle(fb)

	steps := []func(context.Context, *Snapshot) error{
		c.components,
		c.repositories,
		c.checks,
		c.dependencies,
		c.documents,
		c.provenance,
		c.expectations,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := step(ctx, snap); err != nil {
			return nil, err
		}
	}
	c.log().Debug("compiled fact base", slog.Int("facts", fb.Size()))
	return fb, nil
}

func schemaErr(rel, format string, args ...any) error {
	return &datalog.SchemaError{Relation: rel, Reason: fmt.Sprintf(format, args...)}
}

// insert validates domain constraints on top of the declared column types.
func (c *compiler) insert(rel string, vals ...datalog.Value) error {
	t := datalog.Tuple(vals)
	switch rel {
	case RelCheckResult:
		if len(t) > 1 && t[1].Type() == datalog.TypeSymbol && !CheckIDPattern.MatchString(t[1].Str()) {
			return schemaErr(rel, "check id %q does not match %s", t[1].Str(), CheckIDPattern)
		}
	case RelCheckFacts:
		if len(t) > 2 && t[2].Type() == datalog.TypeFloat {
			if conf := t[2].Float64(); math.IsNaN(conf) || conf < 0 || conf > 1 {
				return schemaErr(rel, "confidence %v outside [0, 1]", conf)
			}
		}
	case RelComponent:
		if len(t) == 2 && t[0].Type() == datalog.TypeNumber && t[1].Type() == datalog.TypeSymbol {
			id, purl := t[0].Int(), t[1].Str()
			if id == 0 {
				return schemaErr(rel, "component id 0 is reserved")
			}
			if prev, ok := c.purls[id]; ok && prev != purl {
				return schemaErr(rel, "component %d has two purls %q and %q", id, prev, purl)
			}
			c.purls[id] = purl
		}
	}
	_, err := c.fb.Insert(rel, t)
	return err
}

func (c *compiler) components(_ context.Context, snap *Snapshot) error {
	for _, comp := range snap.Components {
		if err := c.insert(RelComponent, datalog.Number(comp.ID), datalog.Symbol(comp.PURL)); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) repositories(_ context.Context, snap *Snapshot) error {
	for _, r := range snap.Repositories {
		err := c.insert(RelRepository,
			datalog.Number(r.ID),
			datalog.Number(r.ComponentID),
			datalog.Symbol(r.CompleteName),
			datalog.Symbol(r.RemotePath),
			datalog.Symbol(r.BranchName),
			datalog.Symbol(r.ReleaseTag),
			datalog.Symbol(r.CommitSHA),
			datalog.Symbol(r.CommitDate))
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) checks(_ context.Context, snap *Snapshot) error {
	for _, chk := range snap.Checks {
		passed := int64(0)
		if chk.Passed {
			passed = 1
		}
		err := c.insert(RelCheckResult,
			datalog.Number(chk.ID),
			datalog.Symbol(chk.CheckID),
			datalog.Number(passed),
			datalog.Number(chk.ComponentID))
		if err != nil {
			return err
		}
		for _, f := range chk.Facts {
			err := c.insert(RelCheckFacts,
				datalog.Number(f.ID),
				datalog.Number(chk.ID),
				datalog.Float(f.Confidence),
				datalog.Number(chk.ComponentID))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compiler) dependencies(_ context.Context, snap *Snapshot) error {
	for _, d := range snap.Dependencies {
		if err := c.insert(RelDependency, datalog.Number(d.Parent), datalog.Number(d.Dependency)); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) documents(_ context.Context, snap *Snapshot) error {
	for _, doc := range snap.Documents {
		if doc.Name == "" {
			return schemaErr(RelJSONRoot, "document without a name")
		}
		v, err := FromAny(doc.Value)
		if err != nil {
			return schemaErr(RelJSONRoot, "document %q: %v", doc.Name, err)
		}
		h, err := c.unfold(v)
		if err != nil {
			return err
		}
		if err := c.insert(RelJSONRoot, datalog.Symbol(doc.Name), datalog.Number(h)); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) provenance(_ context.Context, snap *Snapshot) error {
	for _, p := range snap.Provenances {
		prov, err := provenance.Parse([]byte(p.Payload))
		if err != nil {
			return schemaErr(RelProvenance, "record %d: %v", p.ID, err)
		}
		doc, err := FromJSON(prov.Statement)
		if err != nil {
			return schemaErr(RelProvenance, "record %d: %v", p.ID, err)
		}
		h, err := c.unfold(doc)
		if err != nil {
			return err
		}
		if err := c.insert(RelJSONRoot, datalog.Symbol("provenance/"+strconv.FormatInt(p.ID, 10)), datalog.Number(h)); err != nil {
			return err
		}
		err = c.insert(RelProvenance,
			datalog.Number(p.ID),
			datalog.Number(p.ComponentID),
			datalog.Symbol(prov.PredicateType),
			datalog.Symbol(prov.BuilderID),
			datalog.Symbol(prov.BuildType),
			datalog.Symbol(prov.SourceRepo),
			datalog.Symbol(prov.SourceRef),
			datalog.Symbol(prov.SourceDigest),
			datalog.Number(h))
		if err != nil {
			return err
		}

		for _, s := range prov.Subjects {
			for _, alg := range s.Algorithms() {
				err := c.insert(RelProvenanceSubjectDigest,
					datalog.Number(p.ID), datalog.Symbol(s.Name), datalog.Symbol(alg), datalog.Symbol(s.Digest[alg]))
				if err != nil {
					return err
				}
			}
			if d, ok := s.SHA256(); ok {
				if err := c.insert(RelProvenanceSubject, datalog.Number(p.ComponentID), datalog.Symbol(d.Encoded())); err != nil {
					return err
				}
			}
		}
		c.provenances = append(c.provenances, compiledProvenance{
			id:        p.ID,
			component: p.ComponentID,
			statement: prov.Statement,
		})
	}
	return nil
}

func (c *compiler) expectations(ctx context.Context, snap *Snapshot) error {
	if len(snap.Expectations) == 0 {
		return nil
	}
	if c.validator == nil {
		v, err := expect.NewRegoValidator(expect.WithLogger(c.logger))
		if err != nil {
			return err
		}
		c.validator = v
	}

	for _, e := range snap.Expectations {
		doc := []byte(e.Document)
		target, hasTarget := c.validator.ExtractTarget(ctx, doc)

		var components []int64
		switch {
		case e.ComponentID != 0:
			components = []int64{e.ComponentID}
			if !hasTarget {
				target = c.purls[e.ComponentID]
			}
		case hasTarget:
			components = c.matchTarget(target)
			if len(components) == 0 {
				c.log().Warn("expectation matches no component",
					slog.Int64("expectation", e.ID),
					slog.String("target", target))
			}
		default:
			return schemaErr(RelExpectation, "record %d: %v", e.ID, expect.ErrNoTarget)
		}

		for _, comp := range components {
			if err := c.insert(RelExpectation, datalog.Number(e.ID), datalog.Number(comp), datalog.Symbol(target)); err != nil {
				return err
			}
			for _, p := range c.provenances {
				if p.component != comp {
					continue
				}
				outcome := c.validator.Validate(ctx, doc, p.statement)
				passed := int64(0)
				if outcome.Passed() {
					passed = 1
				}
				err := c.insert(RelExpectationResult,
					datalog.Number(e.ID), datalog.Number(p.id), datalog.Number(passed), datalog.Symbol(outcome.String()))
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// matchTarget returns the components whose purl equals target. A target
// without a version matches every version of the package.
func (c *compiler) matchTarget(target string) []int64 {
	want, err := packageurl.FromString(target)
	parsed := err == nil

	var out []int64
	for id, purl := range c.purls {
		if purl == target {
			out = append(out, id)
			continue
		}
		if !parsed || want.Version != "" {
			continue
		}
		got, err := packageurl.FromString(purl)
		if err != nil {
			continue
		}
		if got.Type == want.Type && got.Namespace == want.Namespace && got.Name == want.Name {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *compiler) relations(rows map[string][][]any) error {
	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d, ok := c.fb.Decl(name)
		if !ok {
			return schemaErr(name, "not an extensional relation")
		}
		for i, row := range rows[name] {
			if len(row) != d.Arity() {
				return schemaErr(name, "row %d has %d values, want %d", i, len(row), d.Arity())
			}
			vals := make([]datalog.Value, len(row))
			for j, raw := range row {
				v, err := convert(raw, d.Columns[j].Type)
				if err != nil {
					return schemaErr(name, "row %d column %s: %v", i, d.Columns[j].Name, err)
				}
				vals[j] = v
			}
			if err := c.insert(name, vals...); err != nil {
				return err
			}
		}
	}
	return nil
}

// convert coerces a decoded JSON or YAML scalar into a value of type typ.
func convert(raw any, typ datalog.Type) (datalog.Value, error) {
	switch typ {
	case datalog.TypeNumber:
		switch x := raw.(type) {
		case int:
			return datalog.Number(int64(x)), nil
		case int64:
			return datalog.Number(x), nil
		case json.Number:
			if i, err := x.Int64(); err == nil {
				return datalog.Number(i), nil
			}
		case float64:
			if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
				return datalog.Number(int64(x)), nil
			}
		}
	case datalog.TypeSymbol:
		if s, ok := raw.(string); ok {
			return datalog.Symbol(s), nil
		}
	case datalog.TypeFloat:
		switch x := raw.(type) {
		case float64:
			return datalog.Float(x), nil
		case int:
			return datalog.Float(float64(x)), nil
		case int64:
			return datalog.Float(float64(x)), nil
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return datalog.Float(f), nil
			}
		}
	case datalog.TypeBool:
		if b, ok := raw.(bool); ok {
			return datalog.Bool(b), nil
		}
	}
	return datalog.Value{}, fmt.Errorf("cannot use %v (%T) as %s", raw, raw, typ)
}

// maxHandle returns the largest document handle already present in fb.
func maxHandle(fb *datalog.FactBase) int64 {
	var top int64
	for rel, cols := range handleColumns {
		for _, t := range fb.Tuples(rel) {
			for _, col := range cols {
				top = max(top, t[col].Int())
			}
		}
	}
	return top
}

func (c *compiler) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}
