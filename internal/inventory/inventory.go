// Package inventory applies stock decrements for a saved order.
//
// Each line is a separate store write. A failing line is recorded and
// skipped; the order itself is never rolled back.
package inventory

import (
	"context"
	"errors"
	"log"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
)

type PartAdjuster interface {
	AdjustPartQuantity(ctx context.Context, owner string, id string, delta int) (*domain.Part, error)
}

type Change struct {
	PartID    string `json:"partId"`
	Quantity  int    `json:"quantity"`
	Remaining int    `json:"remaining"`
}

type Skip struct {
	PartID string `json:"partId"`
	Reason string `json:"reason"`
}

// Adjustment reports what Apply did. Oversold lists parts whose stock went
// negative; those decrements are still applied.
type Adjustment struct {
	Applied  []Change
	Skipped  []Skip
	Oversold []string
}

func (a Adjustment) Complete() bool {
	return len(a.Skipped) == 0
}

type Adjuster struct {
	parts PartAdjuster
}

func NewAdjuster(parts PartAdjuster) *Adjuster {
	return &Adjuster{parts: parts}
}

func (a *Adjuster) Apply(ctx context.Context, owner string, items []domain.OrderItem) Adjustment {
	var out Adjustment
	for _, item := range items {
		part, err := a.parts.AdjustPartQuantity(ctx, owner, item.Part, -item.Quantity)
		if err != nil {
			reason := err.Error()
			if errors.Is(err, store.ErrNotFound) {
				reason = "part not found"
			}
			log.Printf("[inventory] WARN: stock not adjusted part=%s qty=%d: %s", item.Part, item.Quantity, reason)
			out.Skipped = append(out.Skipped, Skip{PartID: item.Part, Reason: reason})
			continue
		}

		out.Applied = append(out.Applied, Change{
			PartID:    item.Part,
			Quantity:  item.Quantity,
			Remaining: part.Quantity,
		})
		if part.Quantity < 0 {
			log.Printf("[inventory] WARN: part=%s oversold, stock now %d", item.Part, part.Quantity)
			out.Oversold = append(out.Oversold, item.Part)
		}
	}
	return out
}
