// homomorphic.go - noise-budgeted ciphertext arithmetic.

package confidential

import (
	"veil/internal/errdefs"
)

// ParametersSize is the length of a ciphertext's public parameters.
const ParametersSize = 64

const (
	addBudgetFloor    = 100
	scalarBudgetFloor = 200
	addNoiseCost      = 50
	scalarNoiseCost   = 100
)

// Ciphertext is an encrypted byte vector that tracks how many more operations it can take.
// The arithmetic is byte-wise and wraps; it models the bookkeeping of an FHE scheme only.
type Ciphertext struct {
	Data             []byte               `json:"encrypted_data"`
	PublicParameters [ParametersSize]byte `json:"public_parameters"`
	NoiseBudget      uint16               `json:"noise_budget"`
}

func saturatingSub(v, d uint16) uint16 {
	if v < d {
		return 0
	}
	return v - d
}

// Add returns the byte-wise wrapping sum of c and other. Both budgets must exceed 100.
// The result is as long as the shorter operand and keeps c's parameters.
func (c *Ciphertext) Add(other *Ciphertext) (*Ciphertext, error) {
	if c.NoiseBudget <= addBudgetFloor || other.NoiseBudget <= addBudgetFloor {
		return nil, errdefs.ErrInsufficientNoise.Withf("budgets %d and %d", c.NoiseBudget, other.NoiseBudget)
	}
	n := min(len(c.Data), len(other.Data))
	data := make([]byte, n)
	for i := 0; i < n; i++ {
		data[i] = c.Data[i] + other.Data[i]
	}
	return &Ciphertext{
		Data:             data,
		PublicParameters: c.PublicParameters,
		NoiseBudget:      saturatingSub(c.NoiseBudget, addNoiseCost),
	}, nil
}

// ScalarMultiply multiplies every byte by scalar, wrapping. The budget must exceed 200.
func (c *Ciphertext) ScalarMultiply(scalar uint8) (*Ciphertext, error) {
	if c.NoiseBudget <= scalarBudgetFloor {
		return nil, errdefs.ErrInsufficientNoise.Withf("budget %d", c.NoiseBudget)
	}
	data := make([]byte, len(c.Data))
	for i, b := range c.Data {
		data[i] = b * scalar
	}
	return &Ciphertext{
		Data:             data,
		PublicParameters: c.PublicParameters,
		NoiseBudget:      saturatingSub(c.NoiseBudget, scalarNoiseCost),
	}, nil
}
