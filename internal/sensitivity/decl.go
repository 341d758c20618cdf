package sensitivity

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/banshee-data/demand.sensitivity/internal/records"
)

// ParamDecl is the serialised form of a ParamSpec used in configuration
// files and the run ledger. Low/High carry the bounds for both uniform and
// index parameters.
type ParamDecl struct {
	Name   string      `json:"name" yaml:"name"`
	Kind   string      `json:"kind" yaml:"kind"`
	Low    *float64    `json:"low,omitempty" yaml:"low,omitempty"`
	High   *float64    `json:"high,omitempty" yaml:"high,omitempty"`
	Mean   *float64    `json:"mean,omitempty" yaml:"mean,omitempty"`
	Stdev  *float64    `json:"stdev,omitempty" yaml:"stdev,omitempty"`
	Prefix string      `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Value  interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	Target string      `json:"target,omitempty" yaml:"target,omitempty"`
}

// Spec converts the declaration, checking that the fields its kind needs
// are present.
func (d ParamDecl) Spec() (ParamSpec, error) {
	need := func(field string, v *float64) (float64, error) {
		if v == nil {
			return 0, configErrorf("parameter %s: %s kind requires %s", d.Name, d.Kind, field)
		}
		return *v, nil
	}
	var p ParamSpec
	switch Kind(d.Kind) {
	case KindUniform:
		lo, err := need("low", d.Low)
		if err != nil {
			return ParamSpec{}, err
		}
		hi, err := need("high", d.High)
		if err != nil {
			return ParamSpec{}, err
		}
		p = Uniform(d.Name, lo, hi)
	case KindGaussian:
		mean, err := need("mean", d.Mean)
		if err != nil {
			return ParamSpec{}, err
		}
		sd, err := need("stdev", d.Stdev)
		if err != nil {
			return ParamSpec{}, err
		}
		p = Gaussian(d.Name, mean, sd)
	case KindIndex:
		lo, err := need("low", d.Low)
		if err != nil {
			return ParamSpec{}, err
		}
		hi, err := need("high", d.High)
		if err != nil {
			return ParamSpec{}, err
		}
		if lo != math.Trunc(lo) || hi != math.Trunc(hi) {
			return ParamSpec{}, configErrorf("parameter %s: index bounds must be integers", d.Name)
		}
		if math.Abs(lo) > maxIndexBound || math.Abs(hi) > maxIndexBound {
			return ParamSpec{}, configErrorf("parameter %s: index bounds must be within ±%d", d.Name, int64(maxIndexBound))
		}
		p = Label(d.Name, d.Prefix, int(lo), int(hi))
	case KindFixed:
		if d.Value == nil {
			return ParamSpec{}, configErrorf("parameter %s: fixed kind requires value", d.Name)
		}
		v, err := records.FromAny(d.Value)
		if err != nil {
			return ParamSpec{}, configErrorf("parameter %s: %v", d.Name, err)
		}
		p = Fixed(d.Name, v)
	default:
		return ParamSpec{}, configErrorf("parameter %s: unknown kind %q", d.Name, d.Kind)
	}
	if d.Target != "" {
		t, err := records.ParseTarget(d.Target)
		if err != nil {
			return ParamSpec{}, configErrorf("parameter %s: %v", d.Name, err)
		}
		p.Target = &t
	}
	return p, p.Validate()
}

// Decl returns the serialised form of p.
func (p ParamSpec) Decl() ParamDecl {
	f := func(v float64) *float64 { return &v }
	d := ParamDecl{Name: p.Name, Kind: string(p.Kind)}
	switch p.Kind {
	case KindUniform:
		d.Low, d.High = f(p.Low), f(p.High)
	case KindGaussian:
		d.Mean, d.Stdev = f(p.Mean), f(p.Stdev)
	case KindIndex:
		d.Low, d.High = f(float64(p.Min)), f(float64(p.Max))
		d.Prefix = p.Prefix
	case KindFixed:
		if n, ok := p.Value.Float(); ok {
			d.Value = n
		} else {
			d.Value = p.Value.String()
		}
	}
	if p.Target != nil {
		d.Target = p.Target.String()
	}
	return d
}

// TableFromDecls converts and validates a list of declarations.
func TableFromDecls(decls []ParamDecl) (DistributionTable, error) {
	t := make(DistributionTable, 0, len(decls))
	for i, d := range decls {
		p, err := d.Spec()
		if err != nil {
			return nil, fmt.Errorf("params[%d]: %w", i, err)
		}
		t = append(t, p)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Decls returns the serialised form of every declaration.
func (t DistributionTable) Decls() []ParamDecl {
	out := make([]ParamDecl, len(t))
	for i, p := range t {
		out[i] = p.Decl()
	}
	return out
}

// MarshalJSON encodes the table as a list of declarations.
func (t DistributionTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Decls())
}

// UnmarshalJSON decodes and validates a list of declarations.
func (t *DistributionTable) UnmarshalJSON(data []byte) error {
	var decls []ParamDecl
	if err := json.Unmarshal(data, &decls); err != nil {
		return err
	}
	table, err := TableFromDecls(decls)
	if err != nil {
		return err
	}
	*t = table
	return nil
}
