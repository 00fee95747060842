package tour_test

import (
	"errors"
	"testing"

	"github.com/campusloop/backend/internal/model/tour"
)

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{}`,
		`{"payload": {"tourId": "T1"}}`,
		`{"type": "tour:state_update", "payload": "nope"}`,
	}
	for _, raw := range cases {
		if _, err := tour.Decode([]byte(raw)); !errors.Is(err, tour.ErrMalformed) {
			t.Fatalf("input %q: expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := tour.Decode([]byte(`{"type": "teleport"}`)); !errors.Is(err, tour.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeCreateSession(t *testing.T) {
	raw := `{"type": "create_session", "payload": {"tourId": "T1", "initial_structure": {"stops": ["L1", "L2"]}, "ambassador_id": "amb-1"}}`

	msg, err := tour.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	if msg.Kind != tour.KindCreateSession {
		t.Fatalf("unexpected kind %v", msg.Kind)
	}
	if msg.Create.TourID != "T1" || msg.Create.AmbassadorID != "amb-1" {
		t.Fatalf("unexpected payload: %+v", msg.Create)
	}
	if msg.Create.InitialStructure == nil || len(msg.Create.InitialStructure.Stops) != 2 {
		t.Fatalf("structure not decoded: %+v", msg.Create.InitialStructure)
	}
}

func TestDecodeStateUpdate(t *testing.T) {
	raw := `{"type": "tour:state_update", "payload": {"tourId": "T1", "state": {"current_location_id": "L1", "visited_locations": ["L1"]}}}`

	msg, err := tour.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	if msg.Kind != tour.KindStateUpdate {
		t.Fatalf("unexpected kind %v", msg.Kind)
	}
	if msg.State.State.CurrentLocationID != "L1" {
		t.Fatalf("unexpected state: %+v", msg.State.State)
	}
}

func TestDecodeTourListChangedAlias(t *testing.T) {
	raw := `{"type": "tour:tour-list-changed", "payload": {"tourId": "T1", "changes": {"new_structure": {"stops": ["L3"]}}}}`

	msg, err := tour.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	if msg.Kind != tour.KindStructureUpdate {
		t.Fatalf("alias must decode as a structure update, got %v", msg.Kind)
	}
	if msg.Structure.Changes.NewStructure == nil {
		t.Fatal("changes not decoded")
	}
}

func TestDecodeMissingPayloadDefaultsEmpty(t *testing.T) {
	msg, err := tour.Decode([]byte(`{"type": "join_session"}`))
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	if msg.Join.TourID != "" {
		t.Fatalf("expected empty tourId, got %q", msg.Join.TourID)
	}
}

func TestAuthPayloadPrincipalPrecedence(t *testing.T) {
	p := tour.AuthPayload{Sub: "a", AmbassadorID: "b", UserID: "c"}
	if got := p.PrincipalID(); got != "a" {
		t.Fatalf("expected sub first, got %q", got)
	}
	p = tour.AuthPayload{AmbassadorID: "b", UserID: "c"}
	if got := p.PrincipalID(); got != "b" {
		t.Fatalf("expected ambassador_id next, got %q", got)
	}
	p = tour.AuthPayload{UserID: "c"}
	if got := p.PrincipalID(); got != "c" {
		t.Fatalf("expected userId last, got %q", got)
	}
}
