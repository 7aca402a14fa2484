package exchange

import "errors"

var (
	// ErrInvalidQuantity is returned when a requested order quantity is
	// non-positive or rounds to zero after precision formatting.
	ErrInvalidQuantity = errors.New("exchange: invalid order quantity")

	// ErrNoOrderID is returned when an exchange accepts an order but does
	// not return an order ID to poll against.
	ErrNoOrderID = errors.New("exchange: order accepted without an order id")

	// ErrOrderNotFilled is returned when ExecuteMarketOrder exhausts its
	// poll budget without observing a FILLED order.
	ErrOrderNotFilled = errors.New("exchange: order did not reach filled status before poll budget expired")

	// ErrOrderRejected is returned when the exchange rejects an order
	// outright (validation failure, insufficient balance, etc).
	ErrOrderRejected = errors.New("exchange: order rejected")
)
