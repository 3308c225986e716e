package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feedharvest/internal/crawler"
)

func strPtr(s string) *string { return &s }

func sampleCheckpoint() crawler.Checkpoint {
	return crawler.Checkpoint{
		Name:  "x_posts_alice_2024-03-05T07-08-09-000Z.json",
		RunID: "run-1",
		Records: []crawler.Record{
			{
				IdentityKey: "https://x.com/a/status/1_2024-03-05T07:00:00.000Z",
				Text:        "hello",
				Permalink:   strPtr("https://x.com/a/status/1"),
				Timestamp:   strPtr("2024-03-05T07:00:00.000Z"),
				CollectedAt: "2024-03-05T07:08:09Z",
				TextLength:  5,
			},
			{
				IdentityKey: "_hi there",
				Text:        "hi there",
				CollectedAt: "2024-03-05T07:08:10Z",
				IsExpanded:  true,
				TextLength:  8,
			},
		},
	}
}

func TestSaveInsertsRecordsOnce(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres", store.Name())

	cp := sampleCheckpoint()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO harvested_records").
		WithArgs(
			cp.Records[0].IdentityKey, "run-1", "hello",
			cp.Records[0].Permalink, cp.Records[0].Timestamp,
			"2024-03-05T07:08:09Z", false, 5, cp.Name,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ON CONFLICT \\(run_id, identity_key\\) DO NOTHING").
		WithArgs(
			"_hi there", "run-1", "hi there",
			(*string)(nil), (*string)(nil),
			"2024-03-05T07:08:10Z", true, 8, cp.Name,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	uri, err := store.Save(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, "postgres:///harvested_records?checkpoint="+cp.Name, uri)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "records", nil)
	require.NoError(t, err)

	boom := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO records").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(boom)
	mock.ExpectRollback()

	_, err = store.Save(context.Background(), sampleCheckpoint())
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "records", nil)
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS records(.|\n)*PRIMARY KEY \(run_id, identity_key\)`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStoreWithPool(nil, "records", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRecordStoreWithPool(mock, "records; DROP TABLE x", nil)
	require.Error(t, err)

	_, err = NewRecordStore(context.Background(), RecordStoreConfig{}, nil)
	require.Error(t, err)
}
