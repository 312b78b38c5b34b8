package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "clinical.patients",
		Columns:      []string{"patient_id", "sex"},
		ConflictKeys: []string{"patient_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "clinical.patients",
		ConflictKeys: []string{"patient_id"},
	}, [][]any{{"p1", "F"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "clinical.patients",
		Columns: []string{"patient_id", "sex"},
	}, [][]any{{"p1", "F"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_clinical_patients"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_clinical_patients"}, []string{"patient_id", "sex"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "clinical"."patients" .+ ON CONFLICT \("patient_id"\) DO UPDATE SET "sex" = EXCLUDED."sex"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "clinical.patients",
		Columns:      []string{"patient_id", "sex"},
		ConflictKeys: []string{"patient_id"},
	}, [][]any{{"p1", "F"}, {"p2", "M"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input, expected string
	}{
		{"patients", `"patients"`},
		{"clinical.patients", `"clinical"."patients"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, sanitizeTable(tt.input), "input: %q", tt.input)
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"patient_id", "sex", "dob"`, quoteAndJoin([]string{"patient_id", "sex", "dob"}))
}
