package cart

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

const propertyIDs = 5

// op is encoded as kind*propertyIDs + id so gopter can shrink plain ints.
func applyOp(s *Store, model map[models.ItemID]int, order *[]models.ItemID, policy enum.DecrementPolicy, op int) {
	id := models.ItemID(fmt.Sprintf("p%d", op%propertyIDs))
	price := decimal.NewFromInt(int64(op%propertyIDs + 1))

	switch op / propertyIDs {
	case 0:
		s.AddItem(models.CartLineItem{ID: id, Name: string(id), Price: price, Quantity: 1})
		if _, ok := model[id]; !ok {
			*order = append(*order, id)
		}
		model[id]++
	case 1:
		s.RemoveItem(id)
		if _, ok := model[id]; ok {
			delete(model, id)
			*order = without(*order, id)
		}
	case 2:
		s.IncrementQuantity(id)
		if _, ok := model[id]; ok {
			model[id]++
		}
	case 3:
		s.DecrementQuantity(id)
		q, ok := model[id]
		switch {
		case !ok:
		case q > 1:
			model[id]--
		case policy == enum.DecrementPolicyRemove:
			delete(model, id)
			*order = without(*order, id)
		}
	default:
		s.Clear()
		clear(model)
		*order = nil
	}
}

func without(ids []models.ItemID, id models.ItemID) []models.ItemID {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func matchesModel(s *Store, model map[models.ItemID]int, order []models.ItemID) bool {
	items := s.Items()
	if len(items) != len(order) {
		return false
	}

	seen := make(map[models.ItemID]bool)
	totalItems := 0
	totalAmount := decimal.Zero
	for i, it := range items {
		if seen[it.ID] || it.ID != order[i] || it.Quantity != model[it.ID] || it.Quantity < 1 {
			return false
		}
		seen[it.ID] = true
		totalItems += it.Quantity
		totalAmount = totalAmount.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return s.TotalItems() == totalItems && s.TotalAmount().Equal(totalAmount)
}

func TestStore_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	for _, policy := range []enum.DecrementPolicy{enum.DecrementPolicyFloor, enum.DecrementPolicyRemove} {
		policy := policy

		properties.Property(fmt.Sprintf("store matches the reference model (%s)", policy), prop.ForAll(
			func(ops []int) bool {
				p := NewMemoryPersister()
				s := Open(context.Background(), "device", p, WithDecrementPolicy(policy))
				model := make(map[models.ItemID]int)
				var order []models.ItemID

				for _, op := range ops {
					applyOp(s, model, &order, policy, op)
					if !matchesModel(s, model, order) {
						return false
					}
				}

				// 重新載入後狀態一致
				reopened := Open(context.Background(), "device", p, WithDecrementPolicy(policy))
				return matchesModel(reopened, model, order)
			},
			gen.SliceOf(gen.IntRange(0, 5*propertyIDs-1)),
		))
	}

	properties.Property("removal is idempotent", prop.ForAll(
		func(qty int) bool {
			s := NewStore("device", models.NewCartState(), nil)
			s.AddItem(models.CartLineItem{ID: "a", Price: decimal.NewFromInt(1), Quantity: qty})
			s.AddItem(models.CartLineItem{ID: "b", Price: decimal.NewFromInt(2), Quantity: 1})
			s.RemoveItem("a")
			once := s.Snapshot()
			s.RemoveItem("a")
			twice := s.Snapshot()
			return len(once.Items) == 1 && len(twice.Items) == 1 &&
				once.TotalAmount().Equal(twice.TotalAmount()) && !s.Contains("a")
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
