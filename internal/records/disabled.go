package records

import "context"

type disabledStore struct{}

// NewDisabledStore returns a Store whose every operation reports
// ErrNotConfigured. It stands in when the object-store backend is selected
// without credentials, so the server starts and the failure surfaces per
// request instead of at boot.
func NewDisabledStore() Store {
	return disabledStore{}
}

func (disabledStore) List(context.Context) ([]Envelope, error) {
	return nil, ErrNotConfigured
}

func (disabledStore) Get(context.Context, string) (Envelope, error) {
	return Envelope{}, ErrNotConfigured
}

func (disabledStore) Put(context.Context, string, []byte) error {
	return ErrNotConfigured
}

func (disabledStore) Delete(context.Context, string) error {
	return ErrNotConfigured
}
