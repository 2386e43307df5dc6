package replay

import "errors"

var (
	// ErrDecode reports a JSONL line that is not a valid measurement.
	ErrDecode = errors.New("decode measurement")
	// ErrNoMeasurements reports an empty input stream.
	ErrNoMeasurements = errors.New("no measurements")
	// ErrUnhealthy reports a target service that failed its health check.
	ErrUnhealthy = errors.New("service unhealthy")
	// ErrSubmit reports a rejected or failed submission request.
	ErrSubmit = errors.New("submit measurements")
)
