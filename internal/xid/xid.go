package xid

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// Reference builds the receipt number printed for a sale:
// TRX-<YYYYMMDDHHMMSS>-<4 digits>. It is not unique on its own; the store
// enforces uniqueness and the caller regenerates on collision.
func Reference(at time.Time) string {
	return fmt.Sprintf("TRX-%s-%04d", at.Format("20060102150405"), 1000+rand.IntN(9000))
}
