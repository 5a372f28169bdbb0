package scheduling

import "context"

// TxRunner runs fn in a transaction carried by the context it passes to fn.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ConsultationHourRepository interface {
	Create(ctx context.Context, h *ConsultationHour) error
	GetByID(ctx context.Context, id int64) (*ConsultationHour, error)
	Update(ctx context.Context, h *ConsultationHour) error
	Delete(ctx context.Context, id int64) error
	ListByDoctorAndDay(ctx context.Context, doctorID int64, day Weekday) ([]*ConsultationHour, error)
	List(ctx context.Context, f ConsultationHourFilter) ([]*ConsultationHour, int, error)
	// LockDoctorDay serialises writers of one doctor's windows for a day until
	// the surrounding transaction ends.
	LockDoctorDay(ctx context.Context, doctorID int64, day Weekday) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	// GetByIDForUpdate row-locks the appointment until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id int64) error
	ListAll(ctx context.Context) ([]*Appointment, error)
	FindWithFilters(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error)
	// LockPatient serialises booking guards for one patient until the
	// surrounding transaction ends.
	LockPatient(ctx context.Context, patientID int64) error
}
