package schema

import (
	"fmt"
	"strings"

	language "github.com/hanpama/querydeps/internal/language"
)

// BuildFromTypeSystem builds a Schema from a validated gqlparser type system.
// Built-in scalars, directives and introspection types are carried over as
// they appear in the type system. Possible types keep the type system's
// registration order, which follows declaration order in the SDL.
func BuildFromTypeSystem(ts *language.TypeSystem) (*Schema, error) {
	if ts == nil {
		return nil, fmt.Errorf("type system is nil")
	}
	s := NewSchema(ts.Description)
	s.source = ts
	if ts.Query != nil {
		s.SetQueryType(ts.Query.Name)
	}
	if ts.Mutation != nil {
		s.SetMutationType(ts.Mutation.Name)
	}
	if ts.Subscription != nil {
		s.SetSubscriptionType(ts.Subscription.Name)
	}

	for _, def := range ts.Types {
		switch def.Kind {
		case language.Object:
			s.AddType(buildComposite(def, TypeKindObject))
		case language.Interface:
			t := buildComposite(def, TypeKindInterface)
			for _, pt := range ts.PossibleTypes[def.Name] {
				if pt.Kind == language.Object {
					t.AddPossibleType(pt.Name)
				}
			}
			s.AddType(t)
		case language.Union:
			t := NewType(def.Name, TypeKindUnion, def.Description)
			for _, pt := range ts.PossibleTypes[def.Name] {
				t.AddPossibleType(pt.Name)
			}
			s.AddType(t)
		case language.Enum:
			s.AddType(buildEnum(def))
		case language.InputObject:
			t, err := buildInput(def)
			if err != nil {
				return nil, err
			}
			s.AddType(t)
		case language.Scalar:
			t := NewType(def.Name, TypeKindScalar, def.Description)
			if d := def.Directives.ForName("specifiedBy"); d != nil {
				if arg := d.Arguments.ForName("url"); arg != nil && arg.Value != nil {
					url := arg.Value.Raw
					t.SpecifiedByURL = &url
				}
			}
			s.AddType(t)
		default:
			return nil, fmt.Errorf("type %s has unsupported kind %s", def.Name, def.Kind)
		}
	}

	for _, dir := range ts.Directives {
		d := NewDirective(dir.Name, dir.Description).SetRepeatable(dir.IsRepeatable)
		for _, loc := range dir.Locations {
			d.Locations = append(d.Locations, string(loc))
		}
		for _, arg := range dir.Arguments {
			in, err := buildArgument(arg)
			if err != nil {
				return nil, fmt.Errorf("directive @%s: %w", dir.Name, err)
			}
			d.AddArgument(in)
		}
		s.AddDirective(d)
	}
	return s, nil
}

func buildComposite(def *language.Definition, kind TypeKind) *Type {
	t := NewType(def.Name, kind, def.Description)
	for _, name := range def.Interfaces {
		t.AddInterface(name)
	}
	for _, fd := range def.Fields {
		f := NewField(fd.Name, fd.Description, TypeRefFromAST(fd.Type))
		if reason, ok := deprecation(fd.Directives); ok {
			f.Deprecate(reason)
		}
		for _, arg := range fd.Arguments {
			// Argument defaults never affect the dependency graph; a
			// malformed one is kept as nil rather than failing the build.
			in, _ := buildArgument(arg)
			f.AddArgument(in)
		}
		t.AddField(f)
	}
	return t
}

func buildEnum(def *language.Definition) *Type {
	t := NewType(def.Name, TypeKindEnum, def.Description)
	for _, v := range def.EnumValues {
		ev := NewEnumValue(v.Name, v.Description)
		if reason, ok := deprecation(v.Directives); ok {
			ev.Deprecate(reason)
		}
		t.AddEnumValue(ev)
	}
	return t
}

func buildInput(def *language.Definition) (*Type, error) {
	t := NewType(def.Name, TypeKindInputObject, def.Description).
		SetOneOf(def.Directives.ForName("oneOf") != nil)
	for _, fd := range def.Fields {
		in := NewInputValue(fd.Name, fd.Description, TypeRefFromAST(fd.Type))
		if fd.DefaultValue != nil {
			v, err := fd.DefaultValue.Value(nil)
			if err != nil {
				return nil, fmt.Errorf("input %s.%s default: %w", def.Name, fd.Name, err)
			}
			in.SetDefault(v)
		}
		if reason, ok := deprecation(fd.Directives); ok {
			in.Deprecate(reason)
		}
		t.AddInputField(in)
	}
	return t, nil
}

func buildArgument(arg *language.ArgumentDefinition) (*InputValue, error) {
	in := NewInputValue(arg.Name, arg.Description, TypeRefFromAST(arg.Type))
	if reason, ok := deprecation(arg.Directives); ok {
		in.Deprecate(reason)
	}
	if arg.DefaultValue != nil {
		v, err := arg.DefaultValue.Value(nil)
		if err != nil {
			return in, fmt.Errorf("argument %s default: %w", arg.Name, err)
		}
		in.SetDefault(v)
	}
	return in, nil
}

func deprecation(dirs language.DirectiveList) (string, bool) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return "", false
	}
	reason := "No longer supported"
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		reason = arg.Value.Raw
	}
	return reason, true
}

// TypeRefFromAST converts a parsed type reference into a TypeRef.
func TypeRefFromAST(t *language.Type) *TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		return NonNullType(TypeRefFromAST(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	}
	if t.NamedType != "" {
		return NamedType(t.NamedType)
	}
	if t.Elem != nil {
		return ListType(TypeRefFromAST(t.Elem))
	}
	return nil
}

// BuildFromSDL parses and validates SDL and returns the corresponding Schema.
func BuildFromSDL(sdl string) (*Schema, error) {
	return BuildFromNamedSDL("schema.graphql", sdl)
}

// BuildFromNamedSDL is BuildFromSDL with a source name used in error
// locations.
func BuildFromNamedSDL(name, sdl string) (*Schema, error) {
	if strings.TrimSpace(sdl) == "" {
		return nil, fmt.Errorf("%s: empty schema", name)
	}
	ts, err := language.LoadTypeSystem(name, sdl)
	if err != nil {
		return nil, err
	}
	return BuildFromTypeSystem(ts)
}
