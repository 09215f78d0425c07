package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/arbitron/internal/domain"
	"github.com/sawpanic/arbitron/internal/persistence/postgres"
)

func TestSave_InsertsOpportunity(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	store := postgres.NewStore(sqlxDB, 5*time.Second)

	opp := domain.Opportunity{
		ID:         "11111111-1111-1111-1111-111111111111",
		Timestamp:  time.Now(),
		ArbLength:  3,
		ArbRate:    1.02,
		ArbSurface: 0.03,
		Assets:     [8]string{"USDT", "BTC", "ETH"},
	}

	mock.ExpectExec("INSERT INTO opportunities").
		WithArgs(opp.ID, opp.Timestamp, opp.ArbLength, opp.ArbRate, opp.ArbSurface,
			"USDT", "BTC", "ETH", "", "", "", "", "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(context.Background(), opp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_DuplicateIsBenign(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	store := postgres.NewStore(sqlxDB, 5*time.Second)

	opp := domain.Opportunity{ID: "dup", Timestamp: time.Now(), ArbLength: 3}

	mock.ExpectExec("INSERT INTO opportunities").
		WillReturnError(&pq.Error{Code: "23505"})

	err = store.Save(context.Background(), opp)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
