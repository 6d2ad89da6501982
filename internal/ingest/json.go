package ingest

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSON reads a top-level JSON array of records one element at a time,
// so large scraper exports never sit in memory twice. It stops early when
// ctx is cancelled.
func DecodeJSON(ctx context.Context, r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, eris.Errorf("ingest: expected a JSON array, got %v", tok)
	}

	var out []Record
	for i := 0; dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "ingest: stopped after %d records", i)
		}
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, eris.Wrapf(err, "ingest: decode record %d", i)
		}
		out = append(out, rec)
	}

	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "ingest: read closing token")
	}
	return out, nil
}
