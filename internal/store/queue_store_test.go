package store

import (
	"context"
	"sync/atomic"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/louaj-station/local-node/internal/apperr"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	conn := sqlx.NewDb(mockDB, "postgres")
	return New(NewDB(conn)), mock
}

func TestDecrementAvailableSeatsCAS_Success(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE vehicle_queues SET available_seats = available_seats - \$1`).
		WithArgs(3, "queue-1", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.DecrementAvailableSeatsCAS(context.Background(), "queue-1", 5, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementAvailableSeatsCAS_LostRace(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE vehicle_queues SET available_seats = available_seats - \$1`).
		WithArgs(3, "queue-1", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.DecrementAvailableSeatsCAS(context.Background(), "queue-1", 5, 3)
	require.NoError(t, err)
	require.False(t, ok, "a concurrent writer or seat exhaustion must report no rows matched")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteQueueEntry_NotInQueue(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM vehicle_queues WHERE id = \$1`).
		WithArgs("missing-id").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteQueueEntry(context.Background(), "missing-id")
	require.Error(t, err)
	require.Equal(t, apperr.CodeNotInQueue, apperr.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateQueueStatus_NotInQueue(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE vehicle_queues SET status = \$1 WHERE id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateQueueStatus(context.Background(), "missing-id", "READY")
	require.Error(t, err)
	require.Equal(t, apperr.CodeNotInQueue, apperr.CodeOf(err))
}

func TestCompactPositions_ResequencesGaps(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "vehicle_id", "destination_id", "destination_name", "queue_type",
		"queue_position", "status", "total_seats", "available_seats", "base_price", "estimated_departure",
	}).
		AddRow("q1", "v1", "d1", "Tunis", "REGULAR", 1, "WAITING", 4, 4, 10.0, nil).
		AddRow("q2", "v2", "d1", "Tunis", "REGULAR", 3, "WAITING", 4, 4, 10.0, nil)

	mock.ExpectQuery(`SELECT (.+) FROM vehicle_queues`).
		WithArgs("d1").
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE vehicle_queues SET queue_position = \$1 WHERE id = \$2`).
		WithArgs(2, "q2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CompactPositions(context.Background(), "d1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDecrementAvailableSeatsCAS_ConcurrentRaceHasExactlyOneWinner exercises
// the "N concurrent requesters race the same queue row" property from
// spec.md §8: every goroutine reads the same stale available_seats value
// and attempts the CAS decrement concurrently, and exactly one — never
// zero, never more than one — can win.
func TestDecrementAvailableSeatsCAS_ConcurrentRaceHasExactlyOneWinner(t *testing.T) {
	s, mock := newMockStore(t)
	mock.MatchExpectationsInOrder(false)

	const racers = 8
	mock.ExpectExec(`UPDATE vehicle_queues SET available_seats = available_seats - \$1`).
		WithArgs(3, "queue-1", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for i := 1; i < racers; i++ {
		mock.ExpectExec(`UPDATE vehicle_queues SET available_seats = available_seats - \$1`).
			WithArgs(3, "queue-1", 5).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < racers; i++ {
		g.Go(func() error {
			ok, err := s.DecrementAvailableSeatsCAS(context.Background(), "queue-1", 5, 3)
			if err != nil {
				return err
			}
			if ok {
				wins.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, wins.Load(), "exactly one concurrent CAS attempt must win the race")
	require.NoError(t, mock.ExpectationsWereMet())
}
