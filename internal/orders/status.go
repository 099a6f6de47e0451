package orders

type Status string

const (
	StatusPending      Status = "pending"
	StatusInProduction Status = "in_production"
	StatusShipped      Status = "shipped"
	StatusCompleted    Status = "completed"
	StatusRejected     Status = "rejected"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:      {StatusInProduction: true, StatusShipped: true, StatusRejected: true},
	StatusInProduction: {StatusShipped: true, StatusRejected: true},
	StatusShipped:      {StatusCompleted: true, StatusPending: true, StatusRejected: true},
	StatusCompleted:    {},
	StatusRejected:     {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Shippable statuses are the ones the splitter accepts.
func (s Status) Shippable() bool {
	return s == StatusPending || s == StatusInProduction
}
