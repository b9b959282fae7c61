package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pricesense/price-crawler/internal/core"
)

func testStoreConfig() StoreConfig {
	return StoreConfig{
		PriceTable: "price_history",
		StockTable: "stock_history",
		LogTable:   "product_scrape_logs",
	}
}

func samplePendingWrite(now time.Time) core.PendingWrite {
	discount := 15.5
	return core.PendingWrite{
		Task: core.Task{ProductID: 42, Platform: core.PlatformCoupang},
		Observation: core.Observation{
			ProductID:       42,
			Price:           299000,
			DiscountRate:    &discount,
			StockStatus:     core.StockAvailable,
			ConfidenceScore: 0.95,
			RecordedAt:      now,
		},
		Log: core.CrawlLogEntry{
			ProductID:       42,
			Platform:        core.PlatformCoupang,
			Status:          core.LogStatusSuccess,
			ExecutionTimeMS: 1200,
			CreatedAt:       now,
		},
	}
}

func TestNewStoreWithPool_RejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := testStoreConfig()
	cfg.LogTable = "logs; DROP TABLE users"
	_, err = NewStoreWithPool(mock, cfg)
	require.Error(t, err)
}

func TestFlushBatch_CommitsAllRowsInOneTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, testStoreConfig())
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0).UTC()
	writes := []core.PendingWrite{samplePendingWrite(now), samplePendingWrite(now)}

	mock.ExpectBegin()
	batch := mock.ExpectBatch()
	for range writes {
		batch.ExpectExec("INSERT INTO price_history").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batch.ExpectExec("INSERT INTO stock_history").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batch.ExpectExec("INSERT INTO product_scrape_logs").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.FlushBatch(context.Background(), writes))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFlushBatch_EmptyBatchTouchesNothing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, testStoreConfig())
	require.NoError(t, err)

	require.NoError(t, store.FlushBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFlushBatch_RollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, testStoreConfig())
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0).UTC()
	writes := []core.PendingWrite{samplePendingWrite(now)}

	mock.ExpectBegin()
	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO price_history").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("constraint violation"))
	batch.ExpectExec("INSERT INTO stock_history").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec("INSERT INTO product_scrape_logs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()

	err = store.FlushBatch(context.Background(), writes)
	require.Error(t, err)
	require.Contains(t, err.Error(), "constraint violation")
}

func TestInsertLog_WritesSingleRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, testStoreConfig())
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0).UTC()
	entry := core.CrawlLogEntry{
		ProductID:       42,
		Platform:        core.PlatformCoupang,
		Status:          core.LogStatusFailed,
		ErrorMessage:    "status 403: blocked by platform",
		ExecutionTimeMS: 950,
		CreatedAt:       now,
	}

	mock.ExpectExec("INSERT INTO product_scrape_logs").
		WithArgs(
			pgxmock.AnyArg(),
			entry.ProductID,
			string(entry.Platform),
			string(entry.Status),
			entry.ErrorMessage,
			entry.ExecutionTimeMS,
			entry.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertLog(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}
