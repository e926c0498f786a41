package dnc

import (
	stderrors "errors"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
)

// storeFault passes AppErrors through and reports anything else as an
// infrastructure fault.
func storeFault(err error, message string) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.NewInternalError(message).WithCause(err)
}
