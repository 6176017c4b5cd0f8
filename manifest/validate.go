package manifest

import (
	"errors"
	"fmt"

	"github.com/jwiedeman/N64Soul/util"
)

// ValidationError describes one entry that breaks the layout rules.
type ValidationError struct {
	Index  int
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest: entry %d (%s): %s", e.Index, e.Name, e.Reason)
}

// Validate checks that entries are in non-decreasing offset order, that every
// offset is a multiple of the declared alignment, and that no entry extends
// past blobSize. All violations are returned joined together.
func Validate(v *View, blobSize uint64) error {
	var errs []error
	var prev uint32
	var i int

	align := uint32(v.Alignment())
	if err := v.ForEach(func(e Entry) bool {
		if i > 0 && e.Offset < prev {
			errs = append(errs, &ValidationError{i, e.Name, fmt.Sprintf("offset %d is below previous offset %d", e.Offset, prev)})
		}

		if !util.IsAligned(e.Offset, align) {
			errs = append(errs, &ValidationError{i, e.Name, fmt.Sprintf("offset %d is not a multiple of %d", e.Offset, align)})
		}

		if e.End() > blobSize {
			errs = append(errs, &ValidationError{i, e.Name, fmt.Sprintf("range [%d, %d) exceeds blob size %d", e.Offset, e.End(), blobSize)})
		}

		prev = e.Offset
		i++
		return true
	}); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
