package xid

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

func New() string {
	return uuid.NewString()
}

// NewOrderNumber stamps an order number for the given creation time in its
// own location. The suffix is random and not checked for collisions here.
func NewOrderNumber(at time.Time) string {
	return OrderNumber(at, rand.Intn(10000))
}

// OrderNumber formats ORD-YYMMDD-RRRR.
func OrderNumber(at time.Time, suffix int) string {
	if suffix < 0 {
		suffix = -suffix
	}
	return fmt.Sprintf("ORD-%s-%04d", at.Format("060102"), suffix%10000)
}
