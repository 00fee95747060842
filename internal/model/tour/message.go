package tour

import (
	"encoding/json"
	"errors"
)

// Inbound message types accepted over the live socket.
const (
	TypeAuth            = "auth"
	TypeCreateSession   = "create_session"
	TypeJoinSession     = "join_session"
	TypeStateUpdate     = "tour:state_update"
	TypeStructureUpdate = "tour:structure_update"
	TypeTourListChanged = "tour:tour-list-changed"
	TypeEndTour         = "tour:end"
	TypePing            = "ambassador:ping"
)

// Outbound event types emitted to clients.
const (
	EventAuthOK                = "auth_ok"
	EventSessionCreated        = "session_created"
	EventSessionJoined         = "session_joined"
	EventMemberJoined          = "member_joined"
	EventMemberLeft            = "member_left"
	EventStateUpdated          = "tour_state_updated"
	EventStructureUpdated      = "tour_structure_updated"
	EventSessionEnded          = "session_ended"
	EventTourEndedConfirmation = "tour_ended_confirmation"
	EventAmbassadorPing        = "ambassador_ping"
	EventError                 = "error"
)

var (
	// ErrMalformed signals a payload that could not be parsed.
	ErrMalformed = errors.New("invalid message format")
	// ErrUnknownType signals a type outside the closed inbound set.
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope is the wire shape of every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound envelope. Error events carry Message; everything else
// carries a Payload.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorEvent builds the error envelope sent back on a rejected message.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Kind enumerates the closed set of inbound message kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindCreateSession
	KindJoinSession
	KindStateUpdate
	KindStructureUpdate
	KindEndTour
	KindPing
)

// AuthPayload carries the principal identifier under whichever key the
// client app uses.
type AuthPayload struct {
	Sub          string `json:"sub"`
	AmbassadorID string `json:"ambassador_id"`
	UserID       string `json:"userId"`
}

// PrincipalID returns the first identifier present.
func (p AuthPayload) PrincipalID() string {
	switch {
	case p.Sub != "":
		return p.Sub
	case p.AmbassadorID != "":
		return p.AmbassadorID
	default:
		return p.UserID
	}
}

type CreateSessionPayload struct {
	TourID           string     `json:"tourId"`
	InitialStructure *Structure `json:"initial_structure"`
	AmbassadorID     string     `json:"ambassador_id,omitempty"`
}

type JoinSessionPayload struct {
	TourID string `json:"tourId"`
}

type StateUpdatePayload struct {
	TourID string `json:"tourId"`
	State  State  `json:"state"`
}

// StructureChanges wraps the replacement structure of a structure update.
type StructureChanges struct {
	NewStructure *Structure `json:"new_structure"`
}

type StructureUpdatePayload struct {
	TourID  string           `json:"tourId"`
	Changes StructureChanges `json:"changes"`
}

type EndTourPayload struct {
	TourID string `json:"tourId"`
}

type PingPayload struct {
	TourID  string `json:"tourId"`
	Message string `json:"message,omitempty"`
}

// Inbound is a decoded message: exactly one payload field is set, matching
// Kind.
type Inbound struct {
	Kind      Kind
	Auth      *AuthPayload
	Create    *CreateSessionPayload
	Join      *JoinSessionPayload
	State     *StateUpdatePayload
	Structure *StructureUpdatePayload
	End       *EndTourPayload
	Ping      *PingPayload
}

// Decode parses one wire message into its typed form. It returns
// ErrMalformed for unparsable input or a missing type, and ErrUnknownType
// for a type outside the inbound set.
func Decode(data []byte) (*Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformed
	}
	if env.Type == "" {
		return nil, ErrMalformed
	}

	payload := env.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	switch env.Type {
	case TypeAuth:
		var p AuthPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, ErrMalformed
		}
		return &Inbound{Kind: KindAuth, Auth: &p}, nil
	case TypeCreateSession:
		var p CreateSessionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, ErrMalformed
		}
		return &Inbound{Kind: KindCreateSession, Create: &p}, nil
	case TypeJoinSession:
		var p JoinSessionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, ErrMalformed
		}
		return &Inbound{Kind: KindJoinSession, Join: &p}, nil
	case TypeStateUpdate:
		var p StateUpdatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, ErrMalformed
		}
		return &Inbound{Kind: KindStateUpdate, State: &p}, nil
	case TypeStructureUpdate, TypeTourListChanged:
		var p StructureUpdatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, ErrMalformed
		}
		return &Inbound{Kind: KindStructureUpdate, Structure: &p}, nil
	case TypeEndTour:
		var p EndTourPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, ErrMalformed
		}
		return &Inbound{Kind: KindEndTour, End: &p}, nil
	case TypePing:
		var p PingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, ErrMalformed
		}
		return &Inbound{Kind: KindPing, Ping: &p}, nil
	default:
		return nil, ErrUnknownType
	}
}
