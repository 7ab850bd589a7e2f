package synth

import (
	"context"
	"fmt"

	"github.com/onkernel/qsynth/lib/domain"
)

// SecretMap is an in-memory secret store keyed by secret UUID or usage.
type SecretMap map[string][]byte

// LookupSecret resolves ref by UUID first, then by usage.
func (m SecretMap) LookupSecret(_ context.Context, ref domain.SecretRef) ([]byte, error) {
	if ref.UUID != "" {
		if v, ok := m[ref.UUID]; ok {
			return v, nil
		}
	}
	if ref.Usage != "" {
		if v, ok := m[ref.Usage]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: uuid=%q usage=%q", ErrSecretNotFound, ref.UUID, ref.Usage)
}
