package order

// AllowedTransitions is the forward-only order lifecycle.
// cancelled is reachable from every non-terminal status.
var AllowedTransitions = map[string]map[string]bool{
	StatusPending:    {StatusPaid: true, StatusCancelled: true},
	StatusPaid:       {StatusProcessing: true, StatusCancelled: true, StatusRefunded: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true, StatusRefunded: true},
	StatusShipped:    {StatusDelivered: true, StatusCancelled: true, StatusRefunded: true},
	StatusDelivered:  {StatusRefunded: true},
}

var paymentStatusTransitions = map[string]map[string]bool{
	PaymentStatusPending: {PaymentStatusPaid: true, PaymentStatusFailed: true},
	PaymentStatusFailed:  {PaymentStatusPaid: true},
}

var chargeTransitions = map[string]map[string]bool{
	ChargePending: {ChargeCaptured: true, ChargeFailed: true},
	ChargeFailed:  {ChargeCaptured: true},
}

// CanTransition reports whether an order may move from current to target.
func CanTransition(current, target string) bool {
	return isAllowed(AllowedTransitions, current, target)
}

// CanAdvancePaymentStatus reports whether orders.payment_status may move
// from current to target. paid is terminal.
func CanAdvancePaymentStatus(current, target string) bool {
	return isAllowed(paymentStatusTransitions, current, target)
}

// CanAdvanceCharge reports whether a payment row may move from current to
// target. captured is terminal.
func CanAdvanceCharge(current, target string) bool {
	return isAllowed(chargeTransitions, current, target)
}

// IsTerminal reports whether no further lifecycle transition is possible.
func IsTerminal(status string) bool {
	return len(AllowedTransitions[status]) == 0
}

func isAllowed(table map[string]map[string]bool, current, target string) bool {
	targets, ok := table[current]
	if !ok {
		return false
	}
	return targets[target]
}
