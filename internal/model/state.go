package model

import (
	"fmt"
	"strings"
)

type PurchaseState string

const (
	StateNotStarted PurchaseState = "not_started"
	StateLogin      PurchaseState = "login"
	StateAddToCart  PurchaseState = "add_to_cart"
	StateCheckout   PurchaseState = "checkout"
	StatePlaceOrder PurchaseState = "place_order"
	StateComplete   PurchaseState = "complete"
)

var purchaseStates = []PurchaseState{
	StateNotStarted,
	StateLogin,
	StateAddToCart,
	StateCheckout,
	StatePlaceOrder,
	StateComplete,
}

// ParsePurchaseState accepts both "add_to_cart" and "ADD_TO_CART" spellings.
func ParsePurchaseState(s string) (PurchaseState, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, st := range purchaseStates {
		if string(st) == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown purchase state: %q", s)
}

func (s PurchaseState) Terminal() bool {
	return s == StateComplete
}
