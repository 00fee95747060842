package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusloop/backend/internal/model/tour"
)

// Client-facing rejection messages.
const (
	msgUnauthorized    = "Unauthorized action."
	msgSessionExists   = "Session already exists"
	msgSessionNotFound = "Session not found"
	msgAlreadyAttached = "Already attached to a session"
	msgMissingIdentity = "Missing principal identifier"
	msgMissingCreate   = "tourId and initial_structure are required"
	msgMissingTourID   = "tourId is required"
	msgMissingChanges  = "changes.new_structure is required"
	msgCreateFailed    = "Failed to create session"
	msgStateFailed     = "Failed to update tour state"
	msgStructureFailed = "Failed to update tour structure"
	msgEndFailed       = "Failed to end tour"
)

// SessionStore is the durable mirror of live sessions. The broker writes it
// before every broadcast and reads it only for interest aggregation at
// creation time.
type SessionStore interface {
	CreateSession(ctx context.Context, tourID, ambassadorID string, structure tour.Structure) (*tour.SessionRecord, error)
	UpdateSession(ctx context.Context, tourID string, patch tour.SessionPatch) (*tour.SessionRecord, error)
	ListInterests(ctx context.Context, tourID string) ([]string, error)
}

// Enricher suggests a stop ordering for a tour. Called best-effort during
// session creation; its failures never block the session.
type Enricher interface {
	SuggestOrder(ctx context.Context, locations, interests []string) ([]string, error)
}

// Broker owns the live-session protocol: it authorizes inbound messages,
// serializes mutations per tour, persists state before broadcasting it, and
// reconciles disconnects.
type Broker struct {
	registry *Registry
	store    SessionStore
	enricher Enricher
	log      zerolog.Logger
}

// New wires a broker. The enricher may be nil when no model is configured.
func New(registry *Registry, store SessionStore, enricher Enricher, log zerolog.Logger) *Broker {
	return &Broker{
		registry: registry,
		store:    store,
		enricher: enricher,
		log:      log,
	}
}

// Connect registers a new connection. A non-empty principal (from a verified
// upgrade credential) pre-authenticates it.
func (b *Broker) Connect(conn Conn, principalID string) {
	c := b.registry.Register(conn)
	if principalID != "" {
		c.principalID = principalID
	}
	b.log.Debug().Str("conn", c.id).Str("principal", principalID).Msg("connection registered")
}

// Authenticate binds a principal identity to the connection. Re-auth
// overwrites the previous identity.
func (b *Broker) Authenticate(conn Conn, p *tour.AuthPayload) {
	principal := p.PrincipalID()
	if principal == "" {
		b.send(conn, tour.ErrorEvent(msgMissingIdentity))
		return
	}
	c := b.registry.Register(conn)
	c.principalID = principal
	b.send(conn, tour.Event{Type: tour.EventAuthOK, Payload: map[string]string{"principalId": principal}})
}

// CreateSession reserves the tour in the registry, persists its row and
// announces it to the ambassador. Reservation comes first so concurrent
// creates for one tour serialize at the registry and the loser never touches
// the row; a failed row write rolls the reservation back. Enrichment is
// best-effort and never fails the call.
func (b *Broker) CreateSession(ctx context.Context, conn Conn, p *tour.CreateSessionPayload) {
	c := b.registry.Register(conn)

	if p.TourID == "" || p.InitialStructure == nil {
		b.send(conn, tour.ErrorEvent(msgMissingCreate))
		return
	}

	s, err := b.registry.AttachAmbassador(p.TourID, conn)
	switch {
	case errors.Is(err, ErrAlreadyAttached):
		b.send(conn, tour.ErrorEvent(msgAlreadyAttached))
		return
	case err != nil:
		b.send(conn, tour.ErrorEvent(msgSessionExists))
		return
	}

	structure := *p.InitialStructure
	b.enrich(ctx, p.TourID, &structure)

	ambassadorID := p.AmbassadorID
	if ambassadorID == "" {
		ambassadorID = c.principalID
	}
	if ambassadorID == "" {
		ambassadorID = c.id
	}

	record, err := b.store.CreateSession(ctx, p.TourID, ambassadorID, structure)
	if err != nil {
		b.registry.RemoveSession(p.TourID)
		b.log.Error().Err(err).Str("tour", p.TourID).Msg("session row creation failed")
		b.send(conn, tour.ErrorEvent(msgCreateFailed))
		return
	}

	s.mu.Lock()
	s.structure = structure
	s.mu.Unlock()

	b.log.Info().Str("tour", p.TourID).Str("ambassador", ambassadorID).Msg("live session created")
	b.send(conn, tour.Event{Type: tour.EventSessionCreated, Payload: record})
}

// JoinSession adds the sender to an active session's member set and tells
// the ambassador about it. A sender already holding a role in any session,
// the tour's own ambassador included, is rejected.
func (b *Broker) JoinSession(_ context.Context, conn Conn, p *tour.JoinSessionPayload) {
	if p.TourID == "" {
		b.send(conn, tour.ErrorEvent(msgMissingTourID))
		return
	}

	s, err := b.registry.AttachMember(p.TourID, conn)
	switch {
	case errors.Is(err, ErrAlreadyAttached):
		b.send(conn, tour.ErrorEvent(msgAlreadyAttached))
		return
	case err != nil:
		b.send(conn, tour.ErrorEvent(msgSessionNotFound))
		return
	}
	c, _ := b.registry.Client(conn)

	b.log.Info().Str("tour", p.TourID).Str("member", c.id).Msg("member joined session")
	b.send(conn, tour.Event{Type: tour.EventSessionJoined, Payload: map[string]string{"tourId": p.TourID}})
	b.send(s.ambassador.conn, tour.Event{Type: tour.EventMemberJoined, Payload: map[string]string{
		"tourId":   p.TourID,
		"memberId": c.id,
	}})
}

// UpdateState advances the tour's current/visited state. Ambassador only;
// the row write must succeed before members see anything.
func (b *Broker) UpdateState(ctx context.Context, conn Conn, p *tour.StateUpdatePayload) {
	s, ok := b.registry.Lookup(p.TourID)
	if !ok {
		b.send(conn, tour.ErrorEvent(msgSessionNotFound))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		b.send(conn, tour.ErrorEvent(msgSessionNotFound))
		return
	}
	if s.ambassador.conn != conn {
		b.send(conn, tour.ErrorEvent(msgUnauthorized))
		return
	}

	state := p.State
	if state.VisitedLocations == nil {
		state.VisitedLocations = []string{}
	}
	current := state.CurrentLocationID
	if _, err := b.store.UpdateSession(ctx, p.TourID, tour.SessionPatch{
		CurrentLocationID: &current,
		VisitedLocations:  state.VisitedLocations,
	}); err != nil {
		b.log.Error().Err(err).Str("tour", p.TourID).Msg("state persistence failed")
		b.send(conn, tour.ErrorEvent(msgStateFailed))
		return
	}

	s.state = state
	b.broadcastLocked(s, tour.Event{Type: tour.EventStateUpdated, Payload: map[string]any{
		"tourId": p.TourID,
		"state":  state,
	}})
}

// UpdateStructure replaces the tour's structure. Ambassador only,
// persist-then-broadcast like state updates.
func (b *Broker) UpdateStructure(ctx context.Context, conn Conn, p *tour.StructureUpdatePayload) {
	s, ok := b.registry.Lookup(p.TourID)
	if !ok {
		b.send(conn, tour.ErrorEvent(msgSessionNotFound))
		return
	}
	if p.Changes.NewStructure == nil {
		b.send(conn, tour.ErrorEvent(msgMissingChanges))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		b.send(conn, tour.ErrorEvent(msgSessionNotFound))
		return
	}
	if s.ambassador.conn != conn {
		b.send(conn, tour.ErrorEvent(msgUnauthorized))
		return
	}

	structure := *p.Changes.NewStructure
	structure.LastUpdated = time.Now().UTC()
	if _, err := b.store.UpdateSession(ctx, p.TourID, tour.SessionPatch{
		Structure: &structure,
	}); err != nil {
		b.log.Error().Err(err).Str("tour", p.TourID).Msg("structure persistence failed")
		b.send(conn, tour.ErrorEvent(msgStructureFailed))
		return
	}

	s.structure = structure
	b.broadcastLocked(s, tour.Event{Type: tour.EventStructureUpdated, Payload: map[string]any{
		"tourId":    p.TourID,
		"structure": structure,
	}})
}

// EndTour ends a session on the ambassador's request: persist status=ended,
// notify and close every member, drop the session, ack the ambassador.
func (b *Broker) EndTour(ctx context.Context, conn Conn, p *tour.EndTourPayload) {
	s, ok := b.registry.Lookup(p.TourID)
	if !ok {
		b.send(conn, tour.ErrorEvent(msgSessionNotFound))
		return
	}

	s.mu.Lock()
	authorized := !s.ended && s.ambassador.conn == conn
	s.mu.Unlock()
	if !authorized {
		b.send(conn, tour.ErrorEvent(msgUnauthorized))
		return
	}

	if err := b.endSession(ctx, s, true); err != nil {
		b.log.Error().Err(err).Str("tour", p.TourID).Msg("end persistence failed")
		b.send(conn, tour.ErrorEvent(msgEndFailed))
		return
	}
	b.send(conn, tour.Event{Type: tour.EventTourEndedConfirmation, Payload: map[string]string{"tourId": p.TourID}})
}

// PingAmbassador relays a member's attention ping to the ambassador. No
// persistence, no queueing; dropped when the ambassador is gone.
func (b *Broker) PingAmbassador(_ context.Context, conn Conn, p *tour.PingPayload) {
	s, ok := b.registry.Lookup(p.TourID)
	if !ok {
		b.send(conn, tour.ErrorEvent(msgSessionNotFound))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.members[conn]
	if !ok {
		b.send(conn, tour.ErrorEvent(msgUnauthorized))
		return
	}

	if err := s.ambassador.conn.Send(tour.Event{Type: tour.EventAmbassadorPing, Payload: map[string]string{
		"tourId":   p.TourID,
		"memberId": c.id,
		"message":  p.Message,
	}}); err != nil {
		b.log.Debug().Err(err).Str("tour", p.TourID).Msg("ping dropped, ambassador unreachable")
	}
}

// Disconnect reconciles a closed connection: an ambassador drop ends its
// session for everyone, a member drop notifies the ambassador, anything else
// is plain cleanup. Never fails outward.
func (b *Broker) Disconnect(ctx context.Context, conn Conn) {
	c, ok := b.registry.Client(conn)
	if !ok {
		return
	}

	s, active := b.registry.Lookup(c.tourID)
	if !active {
		b.registry.Detach(conn)
		return
	}

	switch c.role {
	case roleAmbassador:
		b.log.Info().Str("tour", c.tourID).Str("conn", c.id).Msg("ambassador disconnected, ending session")
		if err := b.endSession(ctx, s, false); err != nil {
			b.log.Warn().Err(err).Str("tour", c.tourID).Msg("end-on-disconnect persistence failed")
		}
		b.registry.Detach(conn)
	case roleMember:
		s.mu.Lock()
		_, present := s.members[conn]
		delete(s.members, conn)
		s.mu.Unlock()
		b.registry.Detach(conn)
		if present {
			b.log.Info().Str("tour", s.tourID).Str("member", c.id).Msg("member disconnected")
			b.send(s.ambassador.conn, tour.Event{Type: tour.EventMemberLeft, Payload: map[string]string{
				"tourId":   s.tourID,
				"memberId": c.id,
			}})
		}
	default:
		b.registry.Detach(conn)
	}
}

// enrich aggregates recorded participant interests and asks the generator
// for a stop ordering. Every failure here is logged and swallowed: creation
// must proceed with the structure as submitted.
func (b *Broker) enrich(ctx context.Context, tourID string, structure *tour.Structure) {
	if b.enricher == nil || len(structure.Stops) == 0 {
		return
	}

	interests, err := b.store.ListInterests(ctx, tourID)
	if err != nil {
		b.log.Warn().Err(err).Str("tour", tourID).Msg("interest aggregation failed, keeping submitted structure")
		return
	}

	order, err := b.enricher.SuggestOrder(ctx, structure.Stops, interests)
	if err != nil {
		b.log.Warn().Err(err).Str("tour", tourID).Msg("itinerary generation failed, keeping submitted structure")
		return
	}

	structure.GeneratedOrder = order
	structure.InterestsUsed = interests
}

// endSession flips the row to ended, broadcasts session_ended, force-closes
// the members and removes the session. With strict set a failed row write
// aborts before anything is broadcast; otherwise the write is best-effort.
func (b *Broker) endSession(ctx context.Context, s *liveSession, strict bool) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}

	now := time.Now().UTC()
	if _, err := b.store.UpdateSession(ctx, s.tourID, tour.SessionPatch{
		Status:  tour.StatusEnded,
		EndedAt: &now,
	}); err != nil {
		if strict {
			s.mu.Unlock()
			return err
		}
		b.log.Warn().Err(err).Str("tour", s.tourID).Msg("ended-status write failed, closing session anyway")
	}

	s.ended = true
	members := s.memberClients()
	s.mu.Unlock()

	ended := tour.Event{Type: tour.EventSessionEnded, Payload: map[string]string{"tourId": s.tourID}}
	for _, m := range members {
		if err := m.conn.Send(ended); err != nil {
			b.log.Debug().Err(err).Str("member", m.id).Msg("skipping closed member connection")
		}
		_ = m.conn.Close()
	}

	b.registry.RemoveSession(s.tourID)
	b.log.Info().Str("tour", s.tourID).Int("members", len(members)).Msg("live session ended")
	return nil
}

// broadcastLocked fans an event out to the member set. Caller holds s.mu so
// consecutive broadcasts reach every member in acceptance order. Connections
// that fail to write are skipped; the disconnect reconciler cleans them up.
func (b *Broker) broadcastLocked(s *liveSession, ev tour.Event) {
	for _, m := range s.members {
		if err := m.conn.Send(ev); err != nil {
			b.log.Debug().Err(err).Str("member", m.id).Msg("skipping closed member connection")
		}
	}
}

func (b *Broker) send(conn Conn, ev tour.Event) {
	if err := conn.Send(ev); err != nil {
		b.log.Debug().Err(err).Str("event", ev.Type).Msg("write to connection failed")
	}
}
