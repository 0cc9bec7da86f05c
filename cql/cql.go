// Package cql parses component query expressions such as "Position & Velocity & !Frozen"
// into ecs filters.
package cql

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/rotisserie/eris"

	"github.com/plus3/colony/ecs"
)

type cqlComponent struct {
	Parts []string `@Ident ( "." @Ident )*`
}

func (c *cqlComponent) String() string {
	return strings.Join(c.Parts, ".")
}

type cqlAll struct{}

func (a *cqlAll) Capture(values []string) error {
	if len(values) != 3 || values[0] != "ALL" || values[1] != "(" || values[2] != ")" {
		return eris.New("invalid ALL()")
	}
	*a = cqlAll{}
	return nil
}

type cqlContains struct {
	Components []*cqlComponent `"CONTAINS" "(" (@@ ",")* @@ ")"`
}

type cqlValue struct {
	All       *cqlAll       `  @("ALL" "(" ")")`
	Contains  *cqlContains  `| @@`
	Component *cqlComponent `| @@`
}

type cqlFactor struct {
	Not  bool      `@"!"?`
	Base *cqlValue `@@`
}

type cqlTerm struct {
	Left  *cqlFactor   `@@`
	Right []*cqlFactor `( "&" @@ )*`
}

func (v *cqlValue) String() string {
	switch {
	case v.All != nil:
		return "ALL()"
	case v.Contains != nil:
		names := make([]string, len(v.Contains.Components))
		for i, comp := range v.Contains.Components {
			names[i] = comp.String()
		}
		return "CONTAINS(" + strings.Join(names, ", ") + ")"
	case v.Component != nil:
		return v.Component.String()
	}
	panic("logic error displaying CQL ast")
}

func (f *cqlFactor) String() string {
	if f.Not {
		return "!" + f.Base.String()
	}
	return f.Base.String()
}

func (t *cqlTerm) String() string {
	out := []string{t.Left.String()}
	for _, r := range t.Right {
		out = append(out, r.String())
	}
	return strings.Join(out, " & ")
}

var internalCQLParser = participle.MustBuild[cqlTerm]()

// Resolver maps a component name to its ID.
type Resolver func(name string) (ecs.ComponentId, error)

// RegistryResolver resolves names through a component registry.
func RegistryResolver(r *ecs.ComponentRegistry) Resolver {
	return func(name string) (ecs.ComponentId, error) {
		info, err := r.LookupName(name)
		if err != nil {
			return 0, err
		}
		return info.Id, nil
	}
}

func (v *cqlValue) components(resolve Resolver) ([]ecs.ComponentId, error) {
	var names []*cqlComponent
	switch {
	case v.All != nil:
		return nil, nil
	case v.Contains != nil:
		names = v.Contains.Components
	case v.Component != nil:
		names = []*cqlComponent{v.Component}
	default:
		return nil, eris.New("unknown error during conversion from CQL AST to filter")
	}

	ids := make([]ecs.ComponentId, 0, len(names))
	for _, name := range names {
		id, err := resolve(name.String())
		if err != nil {
			return nil, eris.Wrapf(err, "resolving %s", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Parse turns a query expression into a filter. Negated components are excluded and the others
// required. ALL() matches every table.
func Parse(cqlText string, resolve Resolver) (ecs.Filter, error) {
	term, err := internalCQLParser.ParseString("", cqlText)
	if err != nil {
		return ecs.Filter{}, eris.Wrap(err, "parsing query")
	}

	var required, excluded []ecs.ComponentId
	for _, factor := range append([]*cqlFactor{term.Left}, term.Right...) {
		if factor.Not && factor.Base.All != nil {
			return ecs.Filter{}, eris.New("!ALL() matches nothing")
		}
		if factor.Not && factor.Base.Contains != nil && len(factor.Base.Contains.Components) > 1 {
			return ecs.Filter{}, eris.Errorf("%s is not a conjunction, negate each component instead", factor)
		}
		ids, err := factor.Base.components(resolve)
		if err != nil {
			return ecs.Filter{}, err
		}
		if factor.Not {
			excluded = append(excluded, ids...)
		} else {
			required = append(required, ids...)
		}
	}

	filter := ecs.Filter{
		Required: ecs.NewSignature(required...),
		Excluded: ecs.NewSignature(excluded...),
	}
	if len(filter.Required.Intersect(filter.Excluded)) > 0 {
		return ecs.Filter{}, eris.Errorf("query %q requires and excludes %s", cqlText, filter.Required.Intersect(filter.Excluded))
	}
	return filter, nil
}

// Compile parses the expression against w's registry and compiles the resulting query.
func Compile(w *ecs.World, cqlText string) (*ecs.Query, error) {
	filter, err := Parse(cqlText, RegistryResolver(w.Registry()))
	if err != nil {
		return nil, err
	}
	return w.Compile(filter), nil
}
