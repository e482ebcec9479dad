package pacing

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

type Enum struct {
	OnTime  Status
	Warning Status
	Late    Status
	Ready   Status
}

// Statuses are the urgency values displays color tickets by.
var Statuses = Enum{
	OnTime:  Status{Name: "on_time"},
	Warning: Status{Name: "warning"},
	Late:    Status{Name: "late"},
	Ready:   Status{Name: "ready"},
}
