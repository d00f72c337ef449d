// Package identity issues record identifiers for the keepsake services.
package identity

import "github.com/google/uuid"

// UUIDProvider issues UUIDv7 identifiers. UUIDv7 values sort by creation
// time, so listings ordered by identifier come back in insertion order.
type UUIDProvider struct{}

// NewUUIDProvider constructs a UUIDProvider.
func NewUUIDProvider() *UUIDProvider {
	return &UUIDProvider{}
}

func (p *UUIDProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
