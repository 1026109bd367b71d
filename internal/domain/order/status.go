package order

// Status is a stage of the order lifecycle.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPreparing      Status = "PREPARING"
	StatusReady          Status = "READY"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusRefunded       Status = "REFUNDED"
)

// next maps each main-chain status to its successor. READY is resolved by
// order type in CanTransition.
var next = map[Status]Status{
	StatusPending:        StatusConfirmed,
	StatusConfirmed:      StatusPreparing,
	StatusPreparing:      StatusReady,
	StatusOutForDelivery: StatusDelivered,
	StatusDelivered:      StatusCompleted,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusOutForDelivery,
		StatusDelivered, StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

// CanTransition reports whether an order of type t may move from one status
// to another. Orders only move forward one step along
// PENDING → CONFIRMED → PREPARING → READY → OUT_FOR_DELIVERY → DELIVERED → COMPLETED,
// except that CANCELLED and REFUNDED are reachable from every non-terminal
// status. Orders that are not delivered skip OUT_FOR_DELIVERY and go from
// READY straight to DELIVERED when handed over.
func CanTransition(t Type, from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusCancelled || to == StatusRefunded {
		return true
	}
	if from == StatusReady {
		if t == TypeDelivery {
			return to == StatusOutForDelivery
		}
		return to == StatusDelivered
	}
	return next[from] == to
}
