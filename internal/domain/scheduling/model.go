package scheduling

import "time"

type Status string

const (
	StatusPending             Status = "pending"
	StatusConfirmed           Status = "confirmed"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusCancelled           Status = "cancelled"
	StatusCompleted           Status = "completed"
)

// ActiveStatuses are the statuses that hold a booking.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusPendingConfirmation}

var validStatuses = map[Status]bool{
	StatusPending: true, StatusConfirmed: true, StatusPendingConfirmation: true,
	StatusCancelled: true, StatusCompleted: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusPendingConfirmation
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID            int64     `db:"id" json:"appointment_id"`
	PatientID     int64     `db:"patient_id" json:"patient_id"`
	DoctorID      int64     `db:"doctor_id" json:"doctor_id"`
	Date          string    `db:"date" json:"date"`
	Time          string    `db:"time" json:"time"`
	Reason        string    `db:"reason" json:"reason"`
	Type          string    `db:"type" json:"type"`
	Status        Status    `db:"status" json:"status"`
	PaymentAmount *float64  `db:"payment_amount" json:"payment_amount,omitempty"`
	PaymentMethod *string   `db:"payment_method" json:"payment_method,omitempty"`
	PaymentDate   *string   `db:"payment_date" json:"payment_date,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ConsultationHour is one weekly availability window of a doctor, [StartTime, EndTime).
type ConsultationHour struct {
	ID        int64     `db:"id" json:"consultation_hour_id"`
	DoctorID  int64     `db:"doctor_id" json:"doctor_id"`
	DayOfWeek Weekday   `db:"day_of_week" json:"day_of_week"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AppointmentFilter selects appointments. Zero values mean "no constraint";
// From and To are inclusive dates. OrderBy outside the allow-list is ignored.
type AppointmentFilter struct {
	PatientID *int64
	DoctorID  *int64
	Date      string
	From      string
	To        string
	Statuses  []Status
	Limit     int
	Offset    int
	OrderBy   string
	OrderDir  string
}

type ConsultationHourFilter struct {
	DoctorID  *int64
	DayOfWeek *Weekday
	Limit     int
	Offset    int
}

// Availability is the result of an availability lookup.
type Availability struct {
	DoctorID  int64   `json:"doctor_id"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	DayOfWeek Weekday `json:"day_of_week"`
	Available bool    `json:"available"`
	// Window is the first consultation hour containing the requested time.
	Window *ConsultationHour `json:"window,omitempty"`
}
