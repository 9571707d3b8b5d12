package order

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

// CanTransition reports whether the status state machine allows moving
// from s to next.
func (s Status) CanTransition(next Status) bool {
	return allowedTransitions[s][next]
}

// Cancellable reports whether an order in this status may still be
// cancelled. Once fulfilment starts the order is locked in.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// AcceptsTracking reports whether a tracking number makes sense for this
// status. Tracking is attached when the parcel ships, not before.
func (s Status) AcceptsTracking() bool {
	return s == StatusShipped || s == StatusDelivered
}
