// Package order owns the order lifecycle: submission, fill polling, and the
// bounded wait-then-cancel policy for partial fills.
package order

import (
	"time"

	"github.com/rustyeddy/krwbot/exchange"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending         Status = "pending"
	StatusSubmitted       Status = "submitted"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusFailed          Status = "failed"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Type distinguishes limit from market orders.
type Type string

const (
	TypeLimit  Type = "limit"
	TypeMarket Type = "market"
)

// Order is the manager's record of one exchange order. It is owned
// exclusively by the Manager; callers receive copies.
type Order struct {
	ID           string
	Symbol       string
	Side         exchange.Side
	Type         Type
	Quantity     float64
	Price        float64 // zero for market orders
	Status       Status
	FilledQty    float64
	AvgFillPrice float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Err          string
}

// Remaining is the unfilled quantity.
func (o Order) Remaining() float64 {
	return o.Quantity - o.FilledQty
}
