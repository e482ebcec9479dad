package ticketstatus

import (
	"strings"
)

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	return s.Name == Statuses.Served.Name
}

type Enum struct {
	Pending Status
	Hold    Status
	Fired   Status
	Ready   Status
	Served  Status
}

// Statuses are wire-stable values consumed by kitchen displays.
var Statuses = Enum{
	Pending: Status{Name: "PENDING"},
	Hold:    Status{Name: "HOLD"},
	Fired:   Status{Name: "FIRED"},
	Ready:   Status{Name: "READY"},
	Served:  Status{Name: "SERVED"},
}

// All lists the statuses in lifecycle order.
var All = []Status{
	Statuses.Pending,
	Statuses.Hold,
	Statuses.Fired,
	Statuses.Ready,
	Statuses.Served,
}

// ByName returns the status for a given name, or nil if not found.
// Matching is case-insensitive so query strings like "fired" resolve.
func ByName(name string) *Status {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

// Active returns every non-terminal status.
func Active() []Status {
	active := make([]Status, 0, len(All)-1)
	for _, s := range All {
		if !s.Terminal() {
			active = append(active, s)
		}
	}
	return active
}
