package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusloop/backend/internal/model/tour"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func sessionRows(t *testing.T, record tour.SessionRecord) *sqlmock.Rows {
	t.Helper()
	structureJSON, err := json.Marshal(record.Structure)
	require.NoError(t, err)
	visitedJSON, err := json.Marshal(record.VisitedLocations)
	require.NoError(t, err)

	var current any
	if record.CurrentLocationID != "" {
		current = record.CurrentLocationID
	}
	var ended any
	if record.EndedAt != nil {
		ended = *record.EndedAt
	}

	return sqlmock.NewRows(sessionColumns).AddRow(
		record.ID,
		record.TourID,
		record.AmbassadorID,
		structureJSON,
		current,
		visitedJSON,
		record.Status,
		record.CreatedAt,
		record.UpdatedAt,
		ended,
	)
}

func TestCreateSession(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now().UTC()
	expected := tour.SessionRecord{
		ID:               "row-1",
		TourID:           "T1",
		AmbassadorID:     "amb-1",
		Structure:        tour.Structure{Stops: []string{"L1", "L2"}},
		VisitedLocations: []string{},
		Status:           tour.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	mock.ExpectQuery("INSERT INTO live_tour_sessions").
		WillReturnRows(sessionRows(t, expected))

	record, err := store.CreateSession(context.Background(), "T1", "amb-1", expected.Structure)
	require.NoError(t, err)
	assert.Equal(t, "T1", record.TourID)
	assert.Equal(t, tour.StatusActive, record.Status)
	assert.Equal(t, []string{"L1", "L2"}, record.Structure.Stops)
	assert.Empty(t, record.VisitedLocations)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSessionQueryFailure(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO live_tour_sessions").
		WillReturnError(errors.New("connection reset"))

	_, err := store.CreateSession(context.Background(), "T1", "amb-1", tour.Structure{})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionStatePatch(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now().UTC()
	current := "L1"
	visited := []string{"L1"}
	visitedJSON, err := json.Marshal(visited)
	require.NoError(t, err)

	expected := tour.SessionRecord{
		ID:                "row-1",
		TourID:            "T1",
		AmbassadorID:      "amb-1",
		Structure:         tour.Structure{Stops: []string{"L1", "L2"}},
		CurrentLocationID: "L1",
		VisitedLocations:  visited,
		Status:            tour.StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	mock.ExpectQuery("UPDATE live_tour_sessions SET").
		WithArgs(sqlmock.AnyArg(), current, visitedJSON, "T1").
		WillReturnRows(sessionRows(t, expected))

	record, err := store.UpdateSession(context.Background(), "T1", tour.SessionPatch{
		CurrentLocationID: &current,
		VisitedLocations:  visited,
	})
	require.NoError(t, err)
	assert.Equal(t, "L1", record.CurrentLocationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionEndedPatch(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now().UTC()
	expected := tour.SessionRecord{
		ID:               "row-1",
		TourID:           "T1",
		AmbassadorID:     "amb-1",
		VisitedLocations: []string{},
		Status:           tour.StatusEnded,
		CreatedAt:        now,
		UpdatedAt:        now,
		EndedAt:          &now,
	}

	mock.ExpectQuery("UPDATE live_tour_sessions SET").
		WithArgs(sqlmock.AnyArg(), tour.StatusEnded, now, "T1").
		WillReturnRows(sessionRows(t, expected))

	record, err := store.UpdateSession(context.Background(), "T1", tour.SessionPatch{
		Status:  tour.StatusEnded,
		EndedAt: &now,
	})
	require.NoError(t, err)
	assert.Equal(t, tour.StatusEnded, record.Status)
	require.NotNil(t, record.EndedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("UPDATE live_tour_sessions SET").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	_, err := store.UpdateSession(context.Background(), "missing", tour.SessionPatch{Status: tour.StatusEnded})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT .+ FROM live_tour_sessions").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInterests(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"interest"}).
		AddRow("athletics").
		AddRow("engineering")
	mock.ExpectQuery("SELECT DISTINCT interest FROM tour_participant_interests").
		WithArgs("T1").
		WillReturnRows(rows)

	interests, err := store.ListInterests(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"athletics", "engineering"}, interests)
	assert.NoError(t, mock.ExpectationsWereMet())
}
