package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateActiveAppointment = errors.New("patient already has an active appointment with this doctor")
	ErrSlotTaken                  = errors.New("patient already booked at this time")
	ErrDoctorUnavailable          = errors.New("doctor not available at the requested time")
	ErrScheduleOverlap            = errors.New("schedule overlaps an existing window for this doctor and day")
	ErrInvalidTransition          = errors.New("appointment is not awaiting out-of-schedule confirmation")
	ErrInvalidWindow              = errors.New("start_time must be before end_time")
	ErrInvalidStatus              = errors.New("invalid appointment status")
	ErrNotFound                   = errors.New("not found")
	ErrNotOwner                   = errors.New("appointment belongs to another doctor")
)

// IsConflict reports whether err is one of the booking or schedule conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateActiveAppointment) ||
		errors.Is(err, ErrSlotTaken) ||
		errors.Is(err, ErrDoctorUnavailable) ||
		errors.Is(err, ErrScheduleOverlap) ||
		errors.Is(err, ErrInvalidTransition)
}

// ValidationError reports a malformed or missing request value.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a bad-input error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrInvalidWindow) || errors.Is(err, ErrInvalidStatus)
}
