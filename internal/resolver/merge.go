package resolver

// Merge composes two resolvers so the async journal can represent "apply A,
// then apply B" as a single queued op, which is what squashing produces
// when two compatible-but-distinct edits land on the same address.
type Merge struct {
	First, Second Resolver
}

func (m *Merge) Kind() Kind { return KindMerge }

func (m *Merge) Resolve(stalePayload, currentPayload []byte) ([]byte, error) {
	afterFirst, err := m.First.Resolve(stalePayload, currentPayload)
	if err != nil {
		return nil, err
	}
	return m.Second.Resolve(stalePayload, afterFirst)
}

func (m *Merge) Squashable(other Resolver) SquashOutcome {
	// A merge never squashes further: it returns Stop for every other
	// resolver, whatever its components would do.
	_ = other
	return Stop
}

// Insert is an idempotent block-insertion resolver: Resolve always produces
// the same payload regardless of what's currently stored, so replaying it
// after a partial failure (e.g. the journal retried an insert whose first
// attempt actually succeeded) is safe.
type Insert struct {
	Payload []byte
}

func (i *Insert) Kind() Kind { return KindInsert }

func (i *Insert) Resolve(_, _ []byte) ([]byte, error) {
	return i.Payload, nil
}

func (i *Insert) Squashable(other Resolver) SquashOutcome {
	if o, ok := other.(*Insert); ok && string(o.Payload) == string(i.Payload) {
		return AtLastPositionContinue
	}
	return Stop
}
