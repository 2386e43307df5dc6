package fallback

import (
	"errors"
	"fmt"

	"github.com/okian/tablewatch/internal/domain/model"
)

// Sentinel kinds of detection failure.
var (
	ErrDetectionFailed = errors.New("detection failed")
	ErrLowConfidence   = errors.New("confidence below threshold")
	ErrSanityRejected  = errors.New("rejected by sanity check")
)

// DetectionFailure ties a failure to the field it affected.
type DetectionFailure struct {
	Field model.FieldType
	Err   error
}

func (e *DetectionFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *DetectionFailure) Unwrap() error { return e.Err }

// Failure wraps err as a DetectionFailure on t. A nil err becomes
// ErrDetectionFailed.
func Failure(t model.FieldType, err error) error {
	if err == nil {
		err = ErrDetectionFailed
	}
	return &DetectionFailure{Field: t, Err: err}
}
