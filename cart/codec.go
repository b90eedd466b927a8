package cart

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goflare.io/storefront/models"
)

const snapshotVersion = 1

var ErrCorruptSnapshot = errors.New("cart: corrupt snapshot")

type envelope struct {
	Version int               `json:"version"`
	Items   []json.RawMessage `json:"items"`
	SavedAt time.Time         `json:"saved_at"`
}

// EncodeSnapshot serializes state into the versioned envelope stored per device.
func EncodeSnapshot(state models.CartState) ([]byte, error) {
	items := make([]json.RawMessage, 0, len(state.Items))
	for _, item := range state.Items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cart item %s: %w", item.ID, err)
		}
		items = append(items, raw)
	}

	return json.Marshal(envelope{
		Version: snapshotVersion,
		Items:   items,
		SavedAt: time.Now().UTC(),
	})
}

// DecodeSnapshot parses a stored snapshot. Both the envelope and a bare item array are
// accepted. Entries without an id, with quantity below 1, or with a missing or negative
// price are dropped; repeated ids are merged keeping the first snapshot. dropped counts
// discarded entries. Data that is not a JSON object or array yields ErrCorruptSnapshot.
func DecodeSnapshot(data []byte) (state models.CartState, dropped int, err error) {
	state = models.NewCartState()

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return state, 0, nil
	}

	var raws []json.RawMessage
	switch data[0] {
	case '{':
		var env envelope
		if err = json.Unmarshal(data, &env); err != nil {
			return state, 0, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		raws = env.Items
	case '[':
		if err = json.Unmarshal(data, &raws); err != nil {
			return state, 0, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
	default:
		return state, 0, ErrCorruptSnapshot
	}

	for _, raw := range raws {
		item, ok := decodeItem(raw)
		if !ok {
			dropped++
			continue
		}
		if i := state.IndexOf(item.ID); i >= 0 {
			state.Items[i].Quantity += item.Quantity
			continue
		}
		state.Items = append(state.Items, item)
	}

	return state, dropped, nil
}

func decodeItem(raw json.RawMessage) (models.CartLineItem, bool) {
	var priceField struct {
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(raw, &priceField); err != nil || len(priceField.Price) == 0 || bytes.Equal(priceField.Price, []byte("null")) {
		return models.CartLineItem{}, false
	}

	var item models.CartLineItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return models.CartLineItem{}, false
	}
	if item.ID.IsZero() || item.Quantity < 1 || item.Price.IsNegative() {
		return models.CartLineItem{}, false
	}
	return item, true
}
