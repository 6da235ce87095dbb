package persist

// Persister binds one state type to a basename and codec, so callers
// save and load snapshots without repeating filename plumbing.
type Persister[T any] struct {
	basename string
	codec    Codec
}

// NewPersister creates a persister for the given basename and codec.
func NewPersister[T any](basename string, codec Codec) *Persister[T] {
	return &Persister[T]{
		basename: basename,
		codec:    codec,
	}
}

// Filename returns the file name the persister reads and writes.
func (p *Persister[T]) Filename() string {
	return p.basename + p.codec.Extension()
}

// Save writes the state to its file under dir.
func (p *Persister[T]) Save(dir string, state *T) error {
	return SaveState(dir, p.basename, p.codec, state)
}

// Load reads the state from its file under dir.
func (p *Persister[T]) Load(dir string) (*T, error) {
	var state T

	err := LoadState(dir, p.basename, p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}
