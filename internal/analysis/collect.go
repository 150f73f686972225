package analysis

import (
	"fmt"

	language "github.com/hanpama/querydeps/internal/language"
	schema "github.com/hanpama/querydeps/internal/schema"
)

// collectedFieldMap preserves response key order from the query and, within
// a key, the order in which concrete types were first seen.
type collectedFieldMap struct {
	groups []*fieldGroup
	index  map[string]int
}

type fieldGroup struct {
	responseKey string
	byType      []*MergedField
	index       map[string]int
}

func newCollectedFieldMap() *collectedFieldMap {
	return &collectedFieldMap{index: make(map[string]int)}
}

func (cfm *collectedFieldMap) lookup(responseKey, typeName string) *MergedField {
	gi, ok := cfm.index[responseKey]
	if !ok {
		return nil
	}
	g := cfm.groups[gi]
	if ti, ok := g.index[typeName]; ok {
		return g.byType[ti]
	}
	return nil
}

// group returns the group for responseKey, recording the key on first sight
// even if no concrete type ends up selecting it.
func (cfm *collectedFieldMap) group(responseKey string) *fieldGroup {
	if gi, ok := cfm.index[responseKey]; ok {
		return cfm.groups[gi]
	}
	cfm.index[responseKey] = len(cfm.groups)
	g := &fieldGroup{responseKey: responseKey, index: make(map[string]int)}
	cfm.groups = append(cfm.groups, g)
	return g
}

func (cfm *collectedFieldMap) insert(mf *MergedField) {
	g := cfm.group(mf.ResponseKey)
	g.index[mf.ObjectType.Name] = len(g.byType)
	g.byType = append(g.byType, mf)
}

// toList flattens the map, response keys first, then concrete types.
func (cfm *collectedFieldMap) toList() []*MergedField {
	var out []*MergedField
	for _, g := range cfm.groups {
		out = append(out, g.byType...)
	}
	return out
}

// collectFields collects the fields of a selection set for every type in
// possible, expanding fragments and applying @skip and @include.
func (b *builder) collectFields(selectionSet language.SelectionSet, possible []*schema.Type, parentType *schema.Type) (*collectedFieldMap, error) {
	fields := newCollectedFieldMap()
	if err := b.collectFieldsImpl(selectionSet, possible, parentType, fields, make(map[string]bool)); err != nil {
		return nil, err
	}
	return fields, nil
}

// collectSubfields merges the selection sets of every node backing v. Each
// node gets its own visited-fragment set.
func (b *builder) collectSubfields(v *Vertex) ([]*MergedField, error) {
	if !v.FieldType.IsComposite() {
		return nil, nil
	}
	possible, err := possibleTypes(b.schema, v.FieldType)
	if err != nil {
		return nil, err
	}
	fields := newCollectedFieldMap()
	for _, node := range v.Fields {
		if len(node.SelectionSet) == 0 {
			continue
		}
		if err := b.collectFieldsImpl(node.SelectionSet, possible, v.FieldType, fields, make(map[string]bool)); err != nil {
			return nil, err
		}
	}
	return fields.toList(), nil
}

// collectFieldsImpl is the recursive implementation of field collection
func (b *builder) collectFieldsImpl(
	selectionSet language.SelectionSet,
	possible []*schema.Type,
	parentType *schema.Type,
	fields *collectedFieldMap,
	visitedFragments map[string]bool,
) error {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *language.Field:
			if !b.shouldIncludeNode(sel.Directives) {
				continue
			}
			if sel.Name == language.TypenameMetaField {
				continue
			}
			responseKey := sel.Alias
			if responseKey == "" {
				responseKey = sel.Name
			}
			fields.group(responseKey)
			for _, objectType := range possible {
				if mf := fields.lookup(responseKey, objectType.Name); mf != nil {
					mf.Fields = append(mf.Fields, sel)
					continue
				}
				def := objectType.Field(sel.Name)
				if def == nil {
					return invariantf("field %q is not defined on %s (selected on %s)", sel.Name, objectType.Name, parentType.Name)
				}
				fields.insert(&MergedField{
					ResponseKey:     responseKey,
					Fields:          []*language.Field{sel},
					ObjectType:      objectType,
					FieldDefinition: def,
				})
			}

		case *language.InlineFragment:
			if !b.shouldIncludeNode(sel.Directives) {
				continue
			}
			narrowed, nextParent := possible, parentType
			if sel.TypeCondition != "" {
				cond, err := b.typeCondition(sel.TypeCondition)
				if err != nil {
					return err
				}
				if narrowed, err = narrow(b.schema, possible, cond); err != nil {
					return err
				}
				nextParent = cond
			}
			if err := b.collectFieldsImpl(sel.SelectionSet, narrowed, nextParent, fields, visitedFragments); err != nil {
				return err
			}

		case *language.FragmentSpread:
			fragment, ok := b.fragments[sel.Name]
			if !ok {
				return structuralf(ErrUnknownFragment, "%q", sel.Name)
			}
			if visitedFragments[sel.Name] || !b.shouldIncludeNode(sel.Directives) {
				continue
			}
			visitedFragments[sel.Name] = true

			cond, err := b.typeCondition(fragment.TypeCondition)
			if err != nil {
				return err
			}
			narrowed, err := narrow(b.schema, possible, cond)
			if err != nil {
				return err
			}
			if err := b.collectFieldsImpl(fragment.SelectionSet, narrowed, cond, fields, visitedFragments); err != nil {
				return err
			}

		default:
			return invariantf("unexpected selection node %T", selection)
		}
	}
	return nil
}

// typeCondition resolves the named type of a fragment's type condition.
func (b *builder) typeCondition(name string) (*schema.Type, error) {
	t := b.schema.GetType(name)
	if t == nil {
		return nil, structuralf(ErrInvalidTypeCondition, "unknown type %q", name)
	}
	return t, nil
}

// shouldIncludeNode checks if a node should be included based on directives
func (b *builder) shouldIncludeNode(directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if skipIf, err := b.directiveArgumentValue(skip, "if"); err == nil {
			if skipBool, ok := skipIf.(bool); ok && skipBool {
				return false
			}
		}
	}
	if include := directives.ForName("include"); include != nil {
		if includeIf, err := b.directiveArgumentValue(include, "if"); err == nil {
			if includeBool, ok := includeIf.(bool); ok && !includeBool {
				return false
			}
		}
	}
	return true
}

func (b *builder) directiveArgumentValue(directive *language.Directive, argName string) (any, error) {
	arg := directive.Arguments.ForName(argName)
	if arg == nil {
		return nil, fmt.Errorf("argument %s not found", argName)
	}
	return valueFromASTWithVars(arg.Value, b.variables), nil
}
