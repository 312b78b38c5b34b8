// Package extract reads the three source extracts into raw records:
// patients from CSV or XLSX, encounters from CSV with line-level repair,
// diagnoses from XML. Extraction is structural only; value-level cleaning
// belongs to the transform stages.
package extract

import (
	"context"
	"encoding/csv"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/fetcher"
	"github.com/harborview-health/patient-etl/internal/model"
)

// Sources addresses the three extracts by URL or local path.
type Sources struct {
	Patients   string
	Encounters string
	Diagnoses  string
}

// Extractor reads all extracts for one run.
type Extractor struct {
	f       fetcher.Fetcher
	log     *dq.Log
	tempDir string
}

// NewExtractor creates an extractor. tempDir holds staged downloads for
// formats that need random access; empty means the OS default.
func NewExtractor(f fetcher.Fetcher, log *dq.Log, tempDir string) *Extractor {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Extractor{f: f, log: log, tempDir: tempDir}
}

// Extract reads the three sources concurrently. Any structural failure
// (unreachable source, missing required column, broken XML) aborts the
// run; per-row damage is repaired and logged instead.
func (e *Extractor) Extract(ctx context.Context, src Sources) (model.RawBatch, error) {
	var batch model.RawBatch

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := e.readPatients(ctx, src.Patients)
		if err != nil {
			return err
		}
		batch.Patients = recs
		return nil
	})
	g.Go(func() error {
		recs, err := e.readEncounters(ctx, src.Encounters)
		if err != nil {
			return err
		}
		batch.Encounters = recs
		return nil
	})
	g.Go(func() error {
		recs, err := e.readDiagnoses(ctx, src.Diagnoses)
		if err != nil {
			return err
		}
		batch.Diagnoses = recs
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.RawBatch{}, err
	}

	zap.L().Info("extract complete",
		zap.Int("patients", len(batch.Patients)),
		zap.Int("encounters", len(batch.Encounters)),
		zap.Int("diagnoses", len(batch.Diagnoses)),
	)
	return batch, nil
}

var patientRequired = []string{"patient_id"}

// readPatients dispatches on extension: XLSX workbooks are staged to a
// local file first, anything else streams as CSV.
func (e *Extractor) readPatients(ctx context.Context, source string) ([]model.RawRecord, error) {
	fileName := baseName(source)

	var rows [][]string
	if strings.EqualFold(filepath.Ext(fileName), ".xlsx") {
		staged := filepath.Join(e.tempDir, fileName)
		if _, err := e.f.FetchToFile(ctx, source, staged); err != nil {
			return nil, eris.Wrapf(err, "extract: stage %s", fileName)
		}
		var err error
		rows, err = fetcher.ReadXLSX(staged, fetcher.XLSXOptions{})
		if err != nil {
			return nil, eris.Wrapf(err, "extract: read %s", fileName)
		}
	} else {
		rc, err := e.f.Open(ctx, source)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: open %s", fileName)
		}
		defer rc.Close() //nolint:errcheck

		rowCh, errCh := fetcher.StreamCSV(ctx, rc, fetcher.CSVOptions{LazyQuotes: true})
		for row := range rowCh {
			rows = append(rows, row)
		}
		for err := range errCh {
			if err != nil {
				return nil, eris.Wrapf(err, "extract: read %s", fileName)
			}
		}
	}

	return e.tabular(fileName, rows, patientRequired)
}

var encounterRequired = []string{"encounter_id", "patient_id"}

// readEncounters parses line by line rather than through the CSV reader:
// encounter extracts arrive with shifting delimiters and ragged rows, and
// repair has to be logged against the specific row it touched.
func (e *Extractor) readEncounters(ctx context.Context, source string) ([]model.RawRecord, error) {
	fileName := baseName(source)

	rc, err := e.f.Open(ctx, source)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open %s", fileName)
	}
	defer rc.Close() //nolint:errcheck

	lineCh, errCh := fetcher.StreamLines(ctx, rc)

	var header []string
	var recs []model.RawRecord
	lineNo := 0
	for line := range lineCh {
		lineNo++
		if strings.TrimSpace(line) == "" {
			continue
		}
		rowID := strconv.Itoa(lineNo)

		if header == nil {
			header = splitRow(line)
			continue
		}

		values := splitRow(e.repairDelimiter(fileName, rowID, line))
		values = e.fitWidth(fileName, rowID, header, values)
		recs = append(recs, model.RawRecord{
			SourceFile: fileName,
			RowID:      rowID,
			Ordinal:    lineNo,
			Header:     header,
			Values:     values,
		})
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrapf(err, "extract: read %s", fileName)
		}
	}

	if err := requireColumns(fileName, header, encounterRequired); err != nil {
		return nil, err
	}
	return recs, nil
}

// diagnosisXML mirrors one <diagnosis> element of the hospital export.
type diagnosisXML struct {
	DiagnosisID string `xml:"diagnosisId"`
	EncounterID string `xml:"encounterId"`
	Code        struct {
		Value  string `xml:",chardata"`
		System string `xml:"system,attr"`
	} `xml:"code"`
	IsPrimary  string `xml:"isPrimary"`
	RecordedAt string `xml:"recordedAt"`
}

var diagnosisHeader = []string{"diagnosis_id", "encounter_id", "code", "system", "is_primary", "recorded_at"}

// readDiagnoses streams <diagnosis> elements and flattens each into a
// raw record under a fixed column set, so downstream stages see diagnoses
// the same way they see CSV rows.
func (e *Extractor) readDiagnoses(ctx context.Context, source string) ([]model.RawRecord, error) {
	fileName := baseName(source)

	rc, err := e.f.Open(ctx, source)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open %s", fileName)
	}
	defer rc.Close() //nolint:errcheck

	outCh, errCh := fetcher.StreamXML[diagnosisXML](ctx, rc, "diagnosis")

	var recs []model.RawRecord
	ordinal := 0
	for item := range outCh {
		ordinal++
		rowID := item.DiagnosisID
		if strings.TrimSpace(rowID) == "" {
			rowID = strconv.Itoa(ordinal)
		}
		recs = append(recs, model.RawRecord{
			SourceFile: fileName,
			RowID:      rowID,
			Ordinal:    ordinal,
			Header:     diagnosisHeader,
			Values: []string{
				item.DiagnosisID, item.EncounterID, item.Code.Value,
				item.Code.System, item.IsPrimary, item.RecordedAt,
			},
		})
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrapf(err, "extract: read %s", fileName)
		}
	}
	return recs, nil
}

// tabular converts header-plus-rows data into raw records, enforcing
// required columns and ragged-row repair.
func (e *Extractor) tabular(fileName string, rows [][]string, required []string) ([]model.RawRecord, error) {
	if len(rows) == 0 {
		return nil, eris.Errorf("extract: %s is empty", fileName)
	}
	header := rows[0]
	if err := requireColumns(fileName, header, required); err != nil {
		return nil, err
	}

	recs := make([]model.RawRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowID := strconv.Itoa(i + 2) // 1-based, after the header line
		recs = append(recs, model.RawRecord{
			SourceFile: fileName,
			RowID:      rowID,
			Ordinal:    i + 2,
			Header:     header,
			Values:     e.fitWidth(fileName, rowID, header, row),
		})
	}
	return recs, nil
}

// repairDelimiter rewrites a semicolon-delimited line to commas when the
// line plainly used the wrong delimiter. Lines containing any comma are
// left alone; mixed delimiters are beyond safe repair.
func (e *Extractor) repairDelimiter(fileName, rowID, line string) string {
	if strings.Contains(line, ",") || !strings.Contains(line, ";") {
		return line
	}
	e.log.Record(fileName, rowID, "", line, "semicolon-delimited row; repaired to comma")
	return strings.ReplaceAll(line, ";", ",")
}

// fitWidth pads short rows and trims long ones to the header width.
func (e *Extractor) fitWidth(fileName, rowID string, header, values []string) []string {
	switch {
	case len(values) < len(header):
		e.log.Record(fileName, rowID, "", strings.Join(values, ","),
			"row shorter than header; missing cells treated as empty")
		padded := make([]string, len(header))
		copy(padded, values)
		return padded
	case len(values) > len(header):
		e.log.Record(fileName, rowID, "", strings.Join(values, ","),
			"row wider than header; extra cells discarded")
		return values[:len(header)]
	default:
		return values
	}
}

func requireColumns(fileName string, header, required []string) error {
	for _, want := range required {
		found := false
		for _, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				found = true
				break
			}
		}
		if !found {
			return eris.Errorf("extract: %s missing required column %q", fileName, want)
		}
	}
	return nil
}

// splitRow parses one physical line as a single CSV record, preserving
// quoted fields. A line the CSV parser rejects outright degrades to a
// naive split; the row-level gates downstream will catch the fallout.
func splitRow(line string) []string {
	reader := csv.NewReader(strings.NewReader(line))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	fields, err := reader.Read()
	if err != nil {
		return strings.Split(line, ",")
	}
	return fields
}

// baseName extracts the file name from a URL or path, dropping any query.
func baseName(source string) string {
	if u, err := url.Parse(source); err == nil && u.Path != "" {
		source = u.Path
	}
	return filepath.Base(source)
}
