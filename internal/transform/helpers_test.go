package transform

import (
	"time"

	"go.uber.org/zap"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func testCtx() *Context {
	return DefaultContext(testNow)
}

func sp(s string) *string { return &s }

func rawRec(file, rowID string, ordinal int, header, values []string) model.RawRecord {
	return model.RawRecord{
		SourceFile: file,
		RowID:      rowID,
		Ordinal:    ordinal,
		Header:     header,
		Values:     values,
	}
}

func reasons(log *dq.Log) []string {
	out := make([]string, 0, log.Len())
	for _, e := range log.Entries() {
		out = append(out, e.Reason)
	}
	return out
}
