package rules

// Table maps predicates to ordered action sets, in insertion order.
// A Table is immutable once built; the engine swaps whole tables.
type Table struct {
	entries []entry
}

type entry struct {
	pred    *Predicate
	actions []*Action
}

// EmptyTable returns a table with no rules.
func EmptyTable() *Table {
	return &Table{}
}

// Len returns the number of predicates.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Predicates returns predicates in dispatch order.
func (t *Table) Predicates() []*Predicate {
	if t == nil {
		return nil
	}
	out := make([]*Predicate, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.pred
	}
	return out
}

// Actions returns the actions attached to p in dispatch order.
func (t *Table) Actions(p *Predicate) []*Action {
	if t == nil {
		return nil
	}
	for _, e := range t.entries {
		if e.pred == p {
			out := make([]*Action, len(e.actions))
			copy(out, e.actions)
			return out
		}
	}
	return nil
}

// Builder assembles a Table off to the side of the active one.
type Builder struct {
	entries []entry
	index   map[*Predicate]int
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{index: make(map[*Predicate]int)}
}

// Binding attaches actions to one predicate.
type Binding struct {
	b   *Builder
	idx int
}

// When registers p (once) and returns a binding for attaching actions.
func (b *Builder) When(p *Predicate) Binding {
	idx, ok := b.index[p]
	if !ok {
		idx = len(b.entries)
		b.entries = append(b.entries, entry{pred: p})
		b.index[p] = idx
	}
	return Binding{b: b, idx: idx}
}

// Then attaches a to the bound predicate. Attaching the same action twice is a no-op.
func (x Binding) Then(a *Action) Binding {
	e := &x.b.entries[x.idx]
	for _, existing := range e.actions {
		if existing == a {
			return x
		}
	}
	e.actions = append(e.actions, a)
	return x
}

// Add registers a compiled rule.
func (b *Builder) Add(r *Rule) {
	b.When(r.Predicate).Then(r.Action)
}

// Build returns an immutable snapshot of the builder's entries.
func (b *Builder) Build() *Table {
	entries := make([]entry, len(b.entries))
	for i, e := range b.entries {
		actions := make([]*Action, len(e.actions))
		copy(actions, e.actions)
		entries[i] = entry{pred: e.pred, actions: actions}
	}
	return &Table{entries: entries}
}
