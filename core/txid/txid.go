// Package txid generates the transaction identifiers that correlate outbound
// commands, inbound acknowledgements, inventory mutations and audit entries
// belonging to one logical operation.
package txid

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a new transaction id: eight hex characters drawn from a random
// UUID, a 32-bit space per draw. Uniqueness over the lifetime of the store is
// probabilistic; consumers treat the id as opaque.
func New() string {
	u := uuid.New()
	return hex.EncodeToString(u[:4])
}
