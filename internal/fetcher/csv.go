package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool
}

// StreamCSV reads CSV rows into a channel without buffering the file.
// The first row is always the header and is delivered like any other row;
// the caller decides what to do with it. Rows may have uneven widths:
// dirty extracts are the norm, so FieldsPerRecord is not enforced here.
// Both channels close when the stream ends; the caller must drain rowCh.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// StreamLines reads raw lines into a channel, for extracts too malformed
// for the CSV parser (unbalanced quotes, shifting delimiters). Line-level
// repair happens downstream where the damage can be logged per row.
func StreamLines(ctx context.Context, r io.Reader) (<-chan string, <-chan error) {
	lineCh := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(lineCh)
		defer close(errCh)

		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lineCh <- sc.Text():
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
		if err := sc.Err(); err != nil {
			errCh <- eris.Wrap(err, "csv: scan line")
		}
	}()

	return lineCh, errCh
}
