// Package postgres provides PostgreSQL storage for live tour sessions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/campusloop/backend/internal/model/tour"
)

// ErrNotFound is returned when no session row exists for a tour.
var ErrNotFound = errors.New("session not found")

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT/RETURNING clauses.
var sessionColumns = []string{
	"id", "tour_id", "ambassador_id", "structure", "current_location_id",
	"visited_locations", "status", "created_at", "updated_at", "ended_at",
}

// Store implements the broker's SessionStore on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a session store backed by db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSession inserts the authoritative row for a newly started live tour.
// Re-creating a tour that ended earlier resets its row to active.
func (s *Store) CreateSession(ctx context.Context, tourID, ambassadorID string, structure tour.Structure) (*tour.SessionRecord, error) {
	structureJSON, err := json.Marshal(structure)
	if err != nil {
		return nil, fmt.Errorf("marshaling structure: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO live_tour_sessions
		(id, tour_id, ambassador_id, structure, current_location_id, visited_locations, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, '[]'::jsonb, $5, $6, $6)
		ON CONFLICT (tour_id) DO UPDATE SET
			ambassador_id = EXCLUDED.ambassador_id,
			structure = EXCLUDED.structure,
			current_location_id = NULL,
			visited_locations = '[]'::jsonb,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			ended_at = NULL
		RETURNING id, tour_id, ambassador_id, structure, current_location_id, visited_locations, status, created_at, updated_at, ended_at
	`

	row := s.db.QueryRowContext(ctx, query,
		uuid.NewString(),
		tourID,
		ambassadorID,
		structureJSON,
		tour.StatusActive,
		now,
	)
	return scanSession(row)
}

// UpdateSession applies a partial update to a session row and returns the
// updated row. Nil patch fields are left untouched.
func (s *Store) UpdateSession(ctx context.Context, tourID string, patch tour.SessionPatch) (*tour.SessionRecord, error) {
	qb := psq.Update("live_tour_sessions").
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"tour_id": tourID}).
		Suffix("RETURNING " + returningList())

	if patch.Structure != nil {
		structureJSON, err := json.Marshal(patch.Structure)
		if err != nil {
			return nil, fmt.Errorf("marshaling structure: %w", err)
		}
		qb = qb.Set("structure", structureJSON)
	}
	if patch.CurrentLocationID != nil {
		if *patch.CurrentLocationID == "" {
			qb = qb.Set("current_location_id", nil)
		} else {
			qb = qb.Set("current_location_id", *patch.CurrentLocationID)
		}
	}
	if patch.VisitedLocations != nil {
		visitedJSON, err := json.Marshal(patch.VisitedLocations)
		if err != nil {
			return nil, fmt.Errorf("marshaling visited locations: %w", err)
		}
		qb = qb.Set("visited_locations", visitedJSON)
	}
	if patch.Status != "" {
		qb = qb.Set("status", patch.Status)
	}
	if patch.EndedAt != nil {
		qb = qb.Set("ended_at", *patch.EndedAt)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update: %w", err)
	}

	record, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating session %s: %w", tourID, err)
	}
	return record, nil
}

// GetSession fetches the persisted row for a tour.
func (s *Store) GetSession(ctx context.Context, tourID string) (*tour.SessionRecord, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("live_tour_sessions").
		Where(sq.Eq{"tour_id": tourID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	return scanSession(s.db.QueryRowContext(ctx, query, args...))
}

// ListInterests aggregates the distinct interests participants recorded for
// a tour appointment ahead of the visit.
func (s *Store) ListInterests(ctx context.Context, tourID string) ([]string, error) {
	query, args, err := psq.Select("DISTINCT interest").
		From("tour_participant_interests").
		Where(sq.Eq{"tour_id": tourID}).
		OrderBy("interest").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying interests: %w", err)
	}
	defer rows.Close()

	var interests []string
	for rows.Next() {
		var interest string
		if err := rows.Scan(&interest); err != nil {
			return nil, fmt.Errorf("scanning interest: %w", err)
		}
		interests = append(interests, interest)
	}
	return interests, rows.Err()
}

func returningList() string {
	return strings.Join(sessionColumns, ", ")
}

func scanSession(row *sql.Row) (*tour.SessionRecord, error) {
	var (
		record          tour.SessionRecord
		structureJSON   []byte
		visitedJSON     []byte
		currentLocation sql.NullString
		endedAt         sql.NullTime
	)

	err := row.Scan(
		&record.ID,
		&record.TourID,
		&record.AmbassadorID,
		&structureJSON,
		&currentLocation,
		&visitedJSON,
		&record.Status,
		&record.CreatedAt,
		&record.UpdatedAt,
		&endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(structureJSON, &record.Structure); err != nil {
		return nil, fmt.Errorf("unmarshaling structure: %w", err)
	}
	if err := json.Unmarshal(visitedJSON, &record.VisitedLocations); err != nil {
		return nil, fmt.Errorf("unmarshaling visited locations: %w", err)
	}
	if currentLocation.Valid {
		record.CurrentLocationID = currentLocation.String
	}
	if endedAt.Valid {
		record.EndedAt = &endedAt.Time
	}
	return &record, nil
}
