// Package analysis builds the field dependency tree of a GraphQL query.
//
// Every selected field becomes a vertex that depends on the vertex of the
// field whose result it is selected from. Top-level fields depend on a
// sentinel root. Selections that share a response key are merged per
// concrete object type, following the GraphQL field collection rules, so a
// field selected on an interface yields one vertex per implementing type.
//
// # Conditional edges
//
// An edge is conditional when the parent field returns an interface or union
// and the child was collected for one of its concrete types: the dependency
// only exists when the parent resolves to that type at runtime.
//
// # Ordering
//
// Vertices are expanded depth-first with an explicit stack. Children are
// pushed in collection order, so the last collected field is expanded first
// and receives the lowest id among its siblings. Traverse and PrintGraph use
// the same stack discipline. ExecutionOrder and Stages derive resolution
// orders that do not depend on this detail.
//
// # Fragments
//
// A fragment is expanded at most once per collection of a selection set.
// Cyclic fragments are expected to be rejected by validation; analysing an
// unvalidated document that contains one may not terminate.
//
// # Errors
//
// Analyze fails with a *ValidationError, *StructuralError, *InvariantViolation
// or, with WithStrictVariables, a *CoercionError. No partial tree is
// returned.
package analysis
