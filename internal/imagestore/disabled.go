package imagestore

import "context"

type disabledStore struct{}

// NewDisabledStore returns a Store whose every operation reports
// ErrNotConfigured, used when the object-store backend is selected without
// credentials.
func NewDisabledStore() Store {
	return disabledStore{}
}

func (disabledStore) Save(context.Context, string, []byte, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (disabledStore) Fetch(context.Context, string) ([]byte, error) {
	return nil, ErrNotConfigured
}

func (disabledStore) Delete(context.Context, string) error {
	return ErrNotConfigured
}
