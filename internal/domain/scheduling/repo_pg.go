package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

const (
	activePatientDoctorIndex = "appointment_active_patient_doctor_key"
	activePatientSlotIndex   = "appointment_active_patient_slot_key"
)

// mapWriteError turns unique violations on the active-booking indexes into
// the scheduler's conflict errors.
func mapWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, activePatientDoctorIndex):
		return fmt.Errorf("%w: %v", ErrDuplicateActiveAppointment, err)
	case db.IsUniqueViolation(err, activePatientSlotIndex):
		return fmt.Errorf("%w: %v", ErrSlotTaken, err)
	}
	return err
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return err
}

// =========== Consultation Hour Repository ===========

type consultationHourRepoPG struct{ pool *pgxpool.Pool }

func NewConsultationHourRepoPG(pool *pgxpool.Pool) ConsultationHourRepository {
	return &consultationHourRepoPG{pool: pool}
}

func (r *consultationHourRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const hourCols = `id, doctor_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	created_at, updated_at`

func scanHour(row pgx.Row) (*ConsultationHour, error) {
	var h ConsultationHour
	var day int16
	err := row.Scan(&h.ID, &h.DoctorID, &day, &h.StartTime, &h.EndTime, &h.CreatedAt, &h.UpdatedAt)
	h.DayOfWeek = Weekday(day)
	return &h, err
}

func collectHours(rows pgx.Rows) ([]*ConsultationHour, error) {
	defer rows.Close()
	var items []*ConsultationHour
	for rows.Next() {
		h, err := scanHour(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

func (r *consultationHourRepoPG) Create(ctx context.Context, h *ConsultationHour) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultation_hour (doctor_id, day_of_week, start_time, end_time)
		VALUES ($1, $2, $3::time, $4::time)
		RETURNING id, created_at, updated_at`,
		h.DoctorID, int16(h.DayOfWeek), h.StartTime, h.EndTime,
	).Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
}

func (r *consultationHourRepoPG) GetByID(ctx context.Context, id int64) (*ConsultationHour, error) {
	h, err := scanHour(r.conn(ctx).QueryRow(ctx, `SELECT `+hourCols+` FROM consultation_hour WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "consultation hour", id)
	}
	return h, nil
}

func (r *consultationHourRepoPG) Update(ctx context.Context, h *ConsultationHour) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE consultation_hour SET doctor_id=$2, day_of_week=$3, start_time=$4::time, end_time=$5::time,
			updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		h.ID, h.DoctorID, int16(h.DayOfWeek), h.StartTime, h.EndTime,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	return notFound(err, "consultation hour", h.ID)
}

func (r *consultationHourRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM consultation_hour WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("consultation hour %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *consultationHourRepoPG) ListByDoctorAndDay(ctx context.Context, doctorID int64, day Weekday) ([]*ConsultationHour, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+hourCols+` FROM consultation_hour WHERE doctor_id = $1 AND day_of_week = $2`,
		doctorID, int16(day))
	if err != nil {
		return nil, err
	}
	return collectHours(rows)
}

func (r *consultationHourRepoPG) List(ctx context.Context, f ConsultationHourFilter) ([]*ConsultationHour, int, error) {
	q := buildConsultationHourQuery(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.countSQL, q.countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectHours(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *consultationHourRepoPG) LockDoctorDay(ctx context.Context, doctorID int64, day Weekday) error {
	return db.AdvisoryXactLock(ctx, fmt.Sprintf("consultation_hour:%d:%d", doctorID, day))
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const appointmentCols = `id, patient_id, doctor_id, to_char(date, 'YYYY-MM-DD'), to_char(time, 'HH24:MI'),
	reason, type, status, payment_amount::float8, payment_method, to_char(payment_date, 'YYYY-MM-DD'),
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.Time,
		&a.Reason, &a.Type, &status, &a.PaymentAmount, &a.PaymentMethod, &a.PaymentDate,
		&a.CreatedAt, &a.UpdatedAt)
	a.Status = Status(status)
	return &a, err
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (patient_id, doctor_id, date, time, reason, type, status,
			payment_amount, payment_method, payment_date)
		VALUES ($1, $2, $3::date, $4::time, $5, $6, $7, $8, $9, $10::date)
		RETURNING id, created_at, updated_at`,
		a.PatientID, a.DoctorID, a.Date, a.Time, a.Reason, a.Type, string(a.Status),
		a.PaymentAmount, a.PaymentMethod, a.PaymentDate,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return mapWriteError(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "appointment", id)
	}
	return a, nil
}

func (r *appointmentRepoPG) GetByIDForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, db.ErrNoTx
	}
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "appointment", id)
	}
	return a, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET patient_id=$2, doctor_id=$3, date=$4::date, time=$5::time, reason=$6,
			type=$7, status=$8, payment_amount=$9, payment_method=$10, payment_date=$11::date,
			updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.Date, a.Time, a.Reason,
		a.Type, string(a.Status), a.PaymentAmount, a.PaymentMethod, a.PaymentDate,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return mapWriteError(notFound(err, "appointment", a.ID))
	}
	return nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *appointmentRepoPG) ListAll(ctx context.Context) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+appointmentCols+` FROM appointment ORDER BY date, time, id`)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) FindWithFilters(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	q := buildAppointmentQuery(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.countSQL, q.countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) LockPatient(ctx context.Context, patientID int64) error {
	return db.AdvisoryXactLock(ctx, fmt.Sprintf("appointment:patient:%d", patientID))
}
