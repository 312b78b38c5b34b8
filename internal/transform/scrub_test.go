package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
)

func TestScrubRemovesEmbeddedHeaders(t *testing.T) {
	header := []string{"encounter_id", "patient_id", "admit_dt"}
	recs := []model.RawRecord{
		rawRec("encounters.csv", "1", 1, header, []string{"e1", "p1", "2024-01-01"}),
		rawRec("encounters.csv", "2", 2, header, []string{"encounter_id", "patient_id", "admit_dt"}),
		rawRec("encounters.csv", "3", 3, header, []string{"ENCOUNTER_ID", "PATIENT_ID", "ADMIT_DT"}),
		rawRec("encounters.csv", "4", 4, header, []string{"encounter_id,patient_id,admit_dt", "", ""}),
		rawRec("encounters.csv", "5", 5, header, []string{"encounter_id;patient_id;admit_dt", "", ""}),
		rawRec("encounters.csv", "6", 6, header, []string{"e2", "p2", "2024-01-02"}),
	}

	log := dq.NewLog()
	out := NewRowScrubber(log).Scrub(recs)

	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].RowID)
	assert.Equal(t, "6", out[1].RowID)
	assert.Equal(t, 4, log.Len())
	for _, e := range log.Entries() {
		assert.Equal(t, "embedded header row removed", e.Reason)
	}
}

func TestScrubKeepsDataResemblingSingleColumnName(t *testing.T) {
	// A lone value equal to one column name is not a header row.
	header := []string{"encounter_id", "patient_id"}
	recs := []model.RawRecord{
		rawRec("encounters.csv", "1", 1, header, []string{"encounter_id", ""}),
	}
	log := dq.NewLog()
	out := NewRowScrubber(log).Scrub(recs)
	assert.Len(t, out, 1)
	assert.Equal(t, 0, log.Len())
}

func TestScrubEmptyInput(t *testing.T) {
	log := dq.NewLog()
	out := NewRowScrubber(log).Scrub(nil)
	assert.Empty(t, out)
	assert.Equal(t, 0, log.Len())
}
