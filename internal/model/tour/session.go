package tour

import "time"

// Session status values mirrored to the live_tour_sessions row.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Structure is the ordered plan of a tour: the stops it covers plus the
// metadata the generator attached when the order was suggested.
type Structure struct {
	Stops          []string  `json:"stops"`
	InterestsUsed  []string  `json:"interests_used,omitempty"`
	GeneratedOrder []string  `json:"generated_order,omitempty"`
	LastUpdated    time.Time `json:"last_updated,omitzero"`
}

// State is the portion of a live session the ambassador advances stop by
// stop. An empty CurrentLocationID means the tour has not reached a stop yet.
type State struct {
	CurrentLocationID string   `json:"current_location_id"`
	VisitedLocations  []string `json:"visited_locations"`
}

// SessionRecord is the durable row backing one live tour session.
type SessionRecord struct {
	ID                string     `json:"id"`
	TourID            string     `json:"tour_id"`
	AmbassadorID      string     `json:"ambassador_id"`
	Structure         Structure  `json:"structure"`
	CurrentLocationID string     `json:"current_location_id,omitempty"`
	VisitedLocations  []string   `json:"visited_locations"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
}

// SessionPatch describes a partial update to a session row. Nil fields are
// left untouched.
type SessionPatch struct {
	Structure         *Structure
	CurrentLocationID *string
	VisitedLocations  []string
	Status            string
	EndedAt           *time.Time
}
