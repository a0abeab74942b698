package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool
	TrimSpace  bool // trim every field value; headers are always trimmed
}

// Row is one data row keyed by its trimmed header name. Line is the
// 1-based record number including the header.
type Row struct {
	Line   int
	Fields map[string]string
}

// Get returns the value for column, or "" when the row lacks it.
func (r Row) Get(column string) string {
	return r.Fields[column]
}

// StreamCSV reads a headed CSV file and sends data rows to a channel.
// A leading UTF-8 byte order mark is dropped from the first header.
// Caller must consume the returned row channel. Errors are sent on the
// error channel. Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		header, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "csv: read header")
			return
		}
		for i, h := range header {
			if i == 0 {
				h = strings.TrimPrefix(h, "\ufeff")
			}
			header[i] = strings.TrimSpace(h)
		}

		line := 1
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "csv: read row %d", line+1)
				return
			}
			line++

			fields := make(map[string]string, len(header))
			for i, v := range record {
				if i >= len(header) {
					break
				}
				if opts.TrimSpace {
					v = strings.TrimSpace(v)
				}
				fields[header[i]] = v
			}

			select {
			case rowCh <- Row{Line: line, Fields: fields}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
