package store

import "github.com/petshop/checkout/internal/models"

// orderTransitions lists every legal edge of the order lifecycle. Anything
// absent here fails with ErrInvalidStatusTransition and leaves the row
// untouched. shipped and delivered are terminal with respect to cancellation.
var orderTransitions = map[string][]string{
	models.OrderStatusPending: {
		models.OrderStatusPaid,
		models.OrderStatusCancelled,
	},
	models.OrderStatusPaid: {
		models.OrderStatusShipped,
		models.OrderStatusCancelled,
	},
	models.OrderStatusShipped: {
		models.OrderStatusDelivered,
	},
	models.OrderStatusDelivered: {},
	models.OrderStatusCancelled: {},
}

func CanTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// operator-driven forward transitions; pending->paid goes through payment
// confirmation and cancellation has its own path.
var operatorTargets = map[string]bool{
	models.OrderStatusShipped:   true,
	models.OrderStatusDelivered: true,
}

func IsOperatorTarget(status string) bool {
	return operatorTargets[status]
}
