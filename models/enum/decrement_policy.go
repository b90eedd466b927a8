package enum

import "fmt"

// DecrementPolicy 決定數量減到 1 以下時的行為
type DecrementPolicy string

const (
	// DecrementPolicyFloor keeps the line at quantity 1; removal needs RemoveItem.
	DecrementPolicyFloor DecrementPolicy = "floor"
	// DecrementPolicyRemove drops the line once its quantity would reach 0.
	DecrementPolicyRemove DecrementPolicy = "remove"
)

func ParseDecrementPolicy(s string) (DecrementPolicy, error) {
	switch DecrementPolicy(s) {
	case "", DecrementPolicyFloor:
		return DecrementPolicyFloor, nil
	case DecrementPolicyRemove:
		return DecrementPolicyRemove, nil
	default:
		return "", fmt.Errorf("unknown decrement policy %q", s)
	}
}
