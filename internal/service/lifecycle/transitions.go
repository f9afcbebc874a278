package lifecycle

import "github.com/vladislavdragonenkov/stockledger/internal/domain"

// transitions — допустимые переходы статусов заказа. Терминальные статусы не имеют переходов.
var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {
		domain.OrderStatusPaid,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusPaid: {
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusRefundRequested,
		domain.OrderStatusRefunded,
	},
	domain.OrderStatusProcessing: {
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusRefundRequested,
		domain.OrderStatusRefunded,
	},
	domain.OrderStatusShipped: {
		domain.OrderStatusDelivered,
		domain.OrderStatusRefundRequested,
	},
	domain.OrderStatusRefundRequested: {
		domain.OrderStatusRefunded,
		domain.OrderStatusProcessing,
	},
}

// AllowedTransitions возвращает статусы, в которые можно перейти из from.
func AllowedTransitions(from domain.OrderStatus) []domain.OrderStatus {
	return append([]domain.OrderStatus(nil), transitions[from]...)
}

// CanTransition сообщает, разрешён ли переход from → to.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition возвращает ошибку для недопустимого перехода.
// Повторная оплата и повторный возврат считаются уже обработанными, а не ошибкой графа.
func checkTransition(from, to domain.OrderStatus) error {
	if !to.Valid() {
		return domain.ErrStatusInvalid
	}
	if to == domain.OrderStatusPaid && from != domain.OrderStatusPending {
		return domain.ErrOrderAlreadyProcessed
	}
	if to == domain.OrderStatusRefunded && from == domain.OrderStatusRefunded {
		return domain.ErrOrderAlreadyProcessed
	}
	if !CanTransition(from, to) {
		return domain.ErrInvalidTransition
	}
	return nil
}

// stockDirection возвращает тип изменения остатков для перехода, ok=false если остатки не затрагиваются.
func stockDirection(to domain.OrderStatus) (domain.StockChangeType, bool) {
	switch to {
	case domain.OrderStatusPaid:
		return domain.StockChangePurchase, true
	case domain.OrderStatusRefunded:
		return domain.StockChangeRefund, true
	default:
		return "", false
	}
}
