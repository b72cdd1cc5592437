package reconcile

import (
	"storefront/internal/order"
	"storefront/internal/payment"
)

// Mapping is the local state a provider status translates to. Empty
// OrderStatus or PaymentStatus means the order column is left unchanged.
type Mapping struct {
	ChargeStatus  string
	OrderStatus   string
	PaymentStatus string
	// Final is false for statuses the gateway may still move on from. The
	// webhook event of such a status stays processed=false, so it is listed
	// by `storefront replay` until a final status arrives.
	Final bool
}

// MapStatus translates a gateway payment status:
//
//	Succeeded          -> captured, order paid, payment_status paid
//	Failed, Canceled   -> failed, order unchanged, payment_status failed
//	anything else      -> pending, nothing changes
func MapStatus(providerStatus string) Mapping {
	switch providerStatus {
	case payment.StatusSucceeded:
		return Mapping{
			ChargeStatus:  order.ChargeCaptured,
			OrderStatus:   order.StatusPaid,
			PaymentStatus: order.PaymentStatusPaid,
			Final:         true,
		}
	case payment.StatusFailed, payment.StatusCanceled:
		return Mapping{
			ChargeStatus:  order.ChargeFailed,
			PaymentStatus: order.PaymentStatusFailed,
			Final:         true,
		}
	default:
		return Mapping{ChargeStatus: order.ChargePending}
	}
}
