package analysis

import (
	schema "github.com/hanpama/querydeps/internal/schema"
)

// possibleTypes returns the concrete object types t can resolve to at
// runtime, in schema registration order.
func possibleTypes(sch *schema.Schema, t *schema.Type) ([]*schema.Type, error) {
	if !t.IsComposite() {
		return nil, structuralf(ErrInvalidTypeCondition, "%s is %s, not an object, interface or union", t.Name, t.Kind)
	}
	return sch.PossibleTypes(t), nil
}

// narrow restricts current to the types satisfying condition. An empty
// current set is treated as unconstrained.
func narrow(sch *schema.Schema, current []*schema.Type, condition *schema.Type) ([]*schema.Type, error) {
	allowed, err := possibleTypes(sch, condition)
	if err != nil {
		return nil, err
	}
	if len(current) == 0 {
		return allowed, nil
	}
	out := make([]*schema.Type, 0, len(current))
	for _, t := range current {
		if containsType(allowed, t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func containsType(types []*schema.Type, t *schema.Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
