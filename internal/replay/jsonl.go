package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/okian/tablewatch/internal/domain/model"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 1 << 20

// WriteJSONL writes one measurement per line.
func WriteJSONL(w io.Writer, ms []model.Measurement) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := range ms {
		if err := enc.Encode(ms[i]); err != nil {
			return fmt.Errorf("encode measurement %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// ReadJSONL reads measurements written by WriteJSONL. Blank lines are
// skipped; the first malformed line aborts with its line number.
func ReadJSONL(r io.Reader) ([]model.Measurement, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		out  []model.Measurement
		line int
	)
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var m model.Measurement
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrDecode, line, err)
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: line %d: %w", ErrDecode, line+1, err)
	}
	if len(out) == 0 {
		return nil, ErrNoMeasurements
	}
	return out, nil
}
