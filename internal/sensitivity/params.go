package sensitivity

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/banshee-data/demand.sensitivity/internal/records"
)

// Kind is the distribution family of a declared parameter.
type Kind string

const (
	KindUniform  Kind = "uniform"
	KindGaussian Kind = "gaussian"
	KindIndex    Kind = "index"
	KindFixed    Kind = "fixed"
)

// ParameterSet maps declared parameter names to one trial's values.
type ParameterSet map[string]records.Value

// Clone returns a copy of p.
func (p ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParamSpec declares one parameter. Which bound fields apply depends on
// Kind: Low/High for uniform, Mean/Stdev for gaussian, Min/Max (and
// optionally Prefix) for index, Value for fixed.
type ParamSpec struct {
	Name   string
	Kind   Kind
	Low    float64
	High   float64
	Mean   float64
	Stdev  float64
	Min    int
	Max    int
	Prefix string
	Value  records.Value

	// Target is the record attribute the value is broadcast to. Parameters
	// without a target are sampled and tabulated only.
	Target *records.Target
}

// Uniform declares a continuous parameter drawn from [low, high].
func Uniform(name string, low, high float64) ParamSpec {
	return ParamSpec{Name: name, Kind: KindUniform, Low: low, High: high}
}

// Gaussian declares a normally distributed parameter.
func Gaussian(name string, mean, stdev float64) ParamSpec {
	return ParamSpec{Name: name, Kind: KindGaussian, Mean: mean, Stdev: stdev}
}

// Index declares an integer drawn uniformly from [min, max].
func Index(name string, min, max int) ParamSpec {
	return ParamSpec{Name: name, Kind: KindIndex, Min: min, Max: max}
}

// Label declares a categorical parameter rendered as prefix+i for i drawn
// uniformly from [min, max].
func Label(name, prefix string, min, max int) ParamSpec {
	return ParamSpec{Name: name, Kind: KindIndex, Min: min, Max: max, Prefix: prefix}
}

// Fixed declares a pass-through value that is never sampled.
func Fixed(name string, v records.Value) ParamSpec {
	return ParamSpec{Name: name, Kind: KindFixed, Value: v}
}

// BindTo returns p with its write target set.
func (p ParamSpec) BindTo(group records.Group, attribute string) ParamSpec {
	p.Target = &records.Target{Group: group, Attribute: attribute}
	return p
}

// Validate checks a single declaration.
func (p ParamSpec) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return configErrorf("parameter with empty name")
	}
	switch p.Kind {
	case KindUniform:
		if !finite(p.Low) || !finite(p.High) {
			return configErrorf("parameter %s: uniform bounds must be finite", p.Name)
		}
		if p.Low > p.High {
			return configErrorf("parameter %s: uniform low %g > high %g", p.Name, p.Low, p.High)
		}
	case KindGaussian:
		if !finite(p.Mean) || !finite(p.Stdev) {
			return configErrorf("parameter %s: gaussian mean and stdev must be finite", p.Name)
		}
		if p.Stdev <= 0 {
			return configErrorf("parameter %s: gaussian stdev must be positive, got %g", p.Name, p.Stdev)
		}
	case KindIndex:
		if p.Min > p.Max {
			return configErrorf("parameter %s: index low %d > high %d", p.Name, p.Min, p.Max)
		}
		if !indexSpanFits(p.Min, p.Max) {
			return configErrorf("parameter %s: index range %d..%d is too wide", p.Name, p.Min, p.Max)
		}
	case KindFixed:
		if f, ok := p.Value.Float(); ok && !finite(f) {
			return configErrorf("parameter %s: fixed value must be finite", p.Name)
		}
	default:
		return configErrorf("parameter %s: unknown kind %q", p.Name, p.Kind)
	}
	if p.Target != nil {
		if p.Target.Attribute == "" || p.Target.Attribute == records.KeyColumn {
			return configErrorf("parameter %s: invalid target attribute %q", p.Name, p.Target.Attribute)
		}
		if _, err := records.ParseGroup(string(p.Target.Group)); err != nil {
			return configErrorf("parameter %s: %v", p.Name, err)
		}
	}
	return nil
}

// Contains reports whether v is a value this declaration could produce.
// Externally supplied trials are checked with it.
func (p ParamSpec) Contains(v records.Value) bool {
	switch p.Kind {
	case KindUniform:
		f, ok := v.Float()
		return ok && f >= p.Low && f <= p.High
	case KindGaussian:
		f, ok := v.Float()
		return ok && finite(f)
	case KindIndex:
		i, ok := p.indexOf(v)
		return ok && i >= p.Min && i <= p.Max
	case KindFixed:
		return v.Equal(p.Value)
	}
	return false
}

func (p ParamSpec) indexOf(v records.Value) (int, bool) {
	if p.Prefix == "" {
		f, ok := v.Float()
		if !ok || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	s, ok := v.Str()
	if !ok || !strings.HasPrefix(s, p.Prefix) {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimPrefix(s, p.Prefix))
	if err != nil {
		return 0, false
	}
	return i, true
}

// render converts a drawn index into its parameter value.
func (p ParamSpec) render(i int) records.Value {
	if p.Prefix == "" {
		return records.Number(float64(i))
	}
	return records.Text(p.Prefix + strconv.Itoa(i))
}

func (p ParamSpec) String() string {
	var s string
	switch p.Kind {
	case KindUniform:
		s = fmt.Sprintf("%s=uniform:%g:%g", p.Name, p.Low, p.High)
	case KindGaussian:
		s = fmt.Sprintf("%s=gaussian:%g:%g", p.Name, p.Mean, p.Stdev)
	case KindIndex:
		if p.Prefix != "" {
			s = fmt.Sprintf("%s=label:%s:%d:%d", p.Name, p.Prefix, p.Min, p.Max)
		} else {
			s = fmt.Sprintf("%s=index:%d:%d", p.Name, p.Min, p.Max)
		}
	case KindFixed:
		s = fmt.Sprintf("%s=fixed:%s", p.Name, p.Value)
	default:
		s = p.Name + "=" + string(p.Kind)
	}
	if p.Target != nil {
		s += "@" + p.Target.String()
	}
	return s
}

// DistributionTable is the ordered list of declared parameters. Declaration
// order fixes both draw order and table column order.
type DistributionTable []ParamSpec

// Validate checks every declaration and rejects duplicate names.
func (t DistributionTable) Validate() error {
	if len(t) == 0 {
		return configErrorf("distribution table is empty")
	}
	seen := make(map[string]bool, len(t))
	targets := make(map[records.Target]string)
	for _, p := range t {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return configErrorf("parameter %s declared more than once", p.Name)
		}
		seen[p.Name] = true
		if p.Target != nil {
			if other, ok := targets[*p.Target]; ok {
				return configErrorf("parameters %s and %s both write %s", other, p.Name, p.Target)
			}
			targets[*p.Target] = p.Name
		}
	}
	return nil
}

// Names returns parameter names in declaration order.
func (t DistributionTable) Names() []string {
	out := make([]string, len(t))
	for i, p := range t {
		out[i] = p.Name
	}
	return out
}

// Lookup finds a declaration by name.
func (t DistributionTable) Lookup(name string) (ParamSpec, bool) {
	i := slices.IndexFunc(t, func(p ParamSpec) bool { return p.Name == name })
	if i < 0 {
		return ParamSpec{}, false
	}
	return t[i], true
}

// Groups returns the record groups written by bound parameters, in
// records.Groups order.
func (t DistributionTable) Groups() []records.Group {
	used := map[records.Group]bool{}
	for _, p := range t {
		if p.Target != nil {
			used[p.Target.Group] = true
		}
	}
	var out []records.Group
	for _, g := range records.Groups {
		if used[g] {
			out = append(out, g)
		}
	}
	return out
}

// Clone returns a copy of t whose targets are not shared.
func (t DistributionTable) Clone() DistributionTable {
	out := make(DistributionTable, len(t))
	for i, p := range t {
		if p.Target != nil {
			target := *p.Target
			p.Target = &target
		}
		out[i] = p
	}
	return out
}

// CheckSet verifies that set holds exactly the declared names with values
// each declaration could have produced.
func (t DistributionTable) CheckSet(set ParameterSet) error {
	for _, p := range t {
		v, ok := set[p.Name]
		if !ok {
			return configErrorf("parameter %s missing from trial", p.Name)
		}
		if !p.Contains(v) {
			return configErrorf("parameter %s: value %s outside declaration %s", p.Name, v, p)
		}
	}
	if len(set) != len(t) {
		for name := range set {
			if _, ok := t.Lookup(name); !ok {
				return configErrorf("trial has undeclared parameter %s", name)
			}
		}
	}
	return nil
}

// ParseParamSpec parses the flag form of a declaration:
//
//	Es=gaussian:0.8:1@architecture.Es
//	Hs_ag=uniform:0.1:0.25
//	void_deck=index:0:2@architecture.void_deck
//	type_wall=label:WALL_AS:1:8@architecture.type_wall
//	height_bg=fixed:3@geometry.height_bg
func ParseParamSpec(s string) (ParamSpec, error) {
	name, rest, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok || name == "" {
		return ParamSpec{}, configErrorf("invalid parameter %q: expected name=kind:args[@group.attribute]", s)
	}
	body, target, bound := strings.Cut(rest, "@")
	parts := strings.Split(body, ":")

	var p ParamSpec
	var err error
	switch Kind(parts[0]) {
	case KindUniform:
		var lo, hi float64
		if lo, hi, err = twoFloats(parts); err == nil {
			p = Uniform(name, lo, hi)
		}
	case KindGaussian:
		var mean, sd float64
		if mean, sd, err = twoFloats(parts); err == nil {
			p = Gaussian(name, mean, sd)
		}
	case KindIndex:
		var lo, hi int
		if lo, hi, err = twoInts(parts[1:], 2); err == nil {
			p = Index(name, lo, hi)
		}
	case "label":
		if len(parts) != 4 || parts[1] == "" {
			err = fmt.Errorf("expected label:PREFIX:low:high")
			break
		}
		var lo, hi int
		if lo, hi, err = twoInts(parts[2:], 2); err == nil {
			p = Label(name, parts[1], lo, hi)
		}
	case KindFixed:
		if len(parts) < 2 {
			err = fmt.Errorf("expected fixed:value")
			break
		}
		p = Fixed(name, records.ParseValue(strings.Join(parts[1:], ":")))
	default:
		err = fmt.Errorf("unknown kind %q", parts[0])
	}
	if err != nil {
		return ParamSpec{}, configErrorf("invalid parameter %q: %v", s, err)
	}
	if bound {
		t, err := records.ParseTarget(target)
		if err != nil {
			return ParamSpec{}, configErrorf("invalid parameter %q: %v", s, err)
		}
		p.Target = &t
	}
	return p, p.Validate()
}

func twoFloats(parts []string) (float64, float64, error) {
	if len(parts) != 3 {
		return 0, 0, fmt.Errorf("expected %s:a:b", parts[0])
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q: %w", parts[1], err)
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q: %w", parts[2], err)
	}
	return a, b, nil
}

func twoInts(parts []string, n int) (int, int, error) {
	if len(parts) != n {
		return 0, 0, fmt.Errorf("expected low:high")
	}
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid integer %q: %w", parts[0], err)
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid integer %q: %w", parts[1], err)
	}
	return a, b, nil
}

// maxIndexBound is the largest index bound a float declaration may carry;
// every integer up to it is exact in a float64.
const maxIndexBound = 1 << 53

// indexSpanFits reports whether max-min+1 is a positive int, as the sampler
// draws from that many values.
func indexSpanFits(min, max int) bool {
	if min < 0 && max > math.MaxInt+min {
		return false
	}
	return max-min < math.MaxInt
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
