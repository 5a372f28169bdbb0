package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Metrics receives scheduling outcomes. *metrics.Collector implements it.
type Metrics interface {
	BookingOutcome(outcome string)
	StatusTransition(from, to string)
	ConsultationHourWrite(op, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) BookingOutcome(string)                {}
func (noopMetrics) StatusTransition(string, string)      {}
func (noopMetrics) ConsultationHourWrite(string, string) {}

type Service struct {
	tx           TxRunner
	hours        ConsultationHourRepository
	appointments AppointmentRepository
	logger       zerolog.Logger
	metrics      Metrics
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func NewService(tx TxRunner, hours ConsultationHourRepository, appts AppointmentRepository, opts ...Option) *Service {
	s := &Service{
		tx:           tx,
		hours:        hours,
		appointments: appts,
		logger:       zerolog.Nop(),
		metrics:      noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -- Appointment --

func validateAppointment(a *Appointment) error {
	if a.PatientID <= 0 {
		return invalidf("patient_id is required")
	}
	if a.DoctorID <= 0 {
		return invalidf("doctor_id is required")
	}
	if _, err := WeekdayOf(a.Date); err != nil {
		return err
	}
	m, err := ParseClock(a.Time)
	if err != nil {
		return err
	}
	a.Time = formatClock(m)
	return nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func bookingOutcome(err error, status Status) string {
	switch {
	case err == nil:
		return string(status)
	case errors.Is(err, ErrDuplicateActiveAppointment):
		return "duplicate_active"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrDoctorUnavailable):
		return "unavailable"
	}
	return "error"
}

// CreateAppointment books a. Guards run in order inside one transaction that
// holds the patient's booking lock: same-doctor active booking, same-slot
// booking, then the doctor's consultation hours. A request outside the hours
// is stored as pending_confirmation only when isOutOfSchedule is set.
func (s *Service) CreateAppointment(ctx context.Context, a *Appointment, isOutOfSchedule bool) error {
	if err := validateAppointment(a); err != nil {
		return err
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.LockPatient(ctx, a.PatientID); err != nil {
			return fmt.Errorf("lock patient %d: %w", a.PatientID, err)
		}
		if err := s.checkBookingGuards(ctx, a, 0); err != nil {
			return err
		}

		avail, err := s.availability(ctx, a.DoctorID, a.Date, a.Time)
		if err != nil {
			return err
		}
		switch {
		case avail.Available:
			a.Status = StatusPending
		case isOutOfSchedule:
			a.Status = StatusPendingConfirmation
		default:
			return fmt.Errorf("%w: doctor %d on %s at %s", ErrDoctorUnavailable, a.DoctorID, avail.DayOfWeek, a.Time)
		}

		return s.appointments.Create(ctx, a)
	})
	s.metrics.BookingOutcome(bookingOutcome(err, a.Status))
	if err != nil {
		if IsConflict(err) {
			s.logger.Info().Err(err).
				Int64("patient_id", a.PatientID).
				Int64("doctor_id", a.DoctorID).
				Str("date", a.Date).
				Str("time", a.Time).
				Msg("appointment rejected")
		}
		return err
	}

	s.logger.Info().
		Int64("appointment_id", a.ID).
		Int64("patient_id", a.PatientID).
		Int64("doctor_id", a.DoctorID).
		Str("status", string(a.Status)).
		Msg("appointment created")
	return nil
}

// checkBookingGuards enforces one active booking per (patient, doctor) and per
// (patient, date, exact time). excludeID skips the appointment being updated.
func (s *Service) checkBookingGuards(ctx context.Context, a *Appointment, excludeID int64) error {
	patientID, doctorID := a.PatientID, a.DoctorID

	sameDoctor, _, err := s.appointments.FindWithFilters(ctx, AppointmentFilter{
		PatientID: &patientID,
		DoctorID:  &doctorID,
		Statuses:  ActiveStatuses,
	})
	if err != nil {
		return fmt.Errorf("check active appointments: %w", err)
	}
	for _, existing := range sameDoctor {
		if existing.ID != excludeID {
			return fmt.Errorf("%w (appointment %d)", ErrDuplicateActiveAppointment, existing.ID)
		}
	}

	sameDay, _, err := s.appointments.FindWithFilters(ctx, AppointmentFilter{
		PatientID: &patientID,
		Date:      a.Date,
		Statuses:  ActiveStatuses,
	})
	if err != nil {
		return fmt.Errorf("check same-slot appointments: %w", err)
	}
	requested := TimeToMinutes(a.Time)
	for _, existing := range sameDay {
		if existing.ID != excludeID && TimeToMinutes(existing.Time) == requested {
			return fmt.Errorf("%w (appointment %d)", ErrSlotTaken, existing.ID)
		}
	}
	return nil
}

func (s *Service) availability(ctx context.Context, doctorID int64, date, clock string) (*Availability, error) {
	day, err := WeekdayOf(date)
	if err != nil {
		return nil, err
	}
	windows, err := s.hours.ListByDoctorAndDay(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("load consultation hours: %w", err)
	}
	sort.Slice(windows, func(i, j int) bool {
		return TimeToMinutes(windows[i].StartTime) < TimeToMinutes(windows[j].StartTime)
	})

	result := &Availability{DoctorID: doctorID, Date: date, Time: clock, DayOfWeek: day}
	t := TimeToMinutes(clock)
	for _, w := range windows {
		if Contains(TimeToMinutes(w.StartTime), TimeToMinutes(w.EndTime), t) {
			result.Available = true
			result.Window = w
			break
		}
	}
	return result, nil
}

// CheckAvailability reports whether the doctor consults at date and clock.
func (s *Service) CheckAvailability(ctx context.Context, doctorID int64, date, clock string) (*Availability, error) {
	if doctorID <= 0 {
		return nil, invalidf("doctor_id is required")
	}
	m, err := ParseClock(clock)
	if err != nil {
		return nil, err
	}
	return s.availability(ctx, doctorID, date, formatClock(m))
}

func (s *Service) ConfirmOutOfScheduleAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return s.resolveOutOfSchedule(ctx, id, StatusConfirmed, 0)
}

func (s *Service) RejectOutOfScheduleAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return s.resolveOutOfSchedule(ctx, id, StatusCancelled, 0)
}

// checkOwner fails unless owner is zero or a belongs to doctor owner.
func checkOwner(a *Appointment, owner int64) error {
	if owner != 0 && a.DoctorID != owner {
		return fmt.Errorf("%w: appointment %d", ErrNotOwner, a.ID)
	}
	return nil
}

func (s *Service) resolveOutOfSchedule(ctx context.Context, id int64, to Status, owner int64) (*Appointment, error) {
	var result *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := checkOwner(a, owner); err != nil {
			return err
		}
		if a.Status != StatusPendingConfirmation {
			return fmt.Errorf("%w: appointment %d is %s", ErrInvalidTransition, id, a.Status)
		}
		a.Status = to
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.StatusTransition(string(StatusPendingConfirmation), string(to))
	s.logger.Info().
		Int64("appointment_id", id).
		Str("from", string(StatusPendingConfirmation)).
		Str("to", string(to)).
		Msg("out-of-schedule appointment resolved")
	return result, nil
}

func (s *Service) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, 0, fmt.Errorf("%w: %s", ErrInvalidStatus, st)
		}
	}
	return s.appointments.FindWithFilters(ctx, f)
}

func (s *Service) ListAllAppointments(ctx context.Context) ([]*Appointment, error) {
	return s.appointments.ListAll(ctx)
}

// AppointmentPatch carries the fields of a partial appointment update; nil
// fields keep their stored value.
type AppointmentPatch struct {
	PatientID     *int64
	DoctorID      *int64
	Date          *string
	Time          *string
	Reason        *string
	Type          *string
	Status        *Status
	PaymentAmount *float64
	PaymentMethod *string
	PaymentDate   *string
}

func (p AppointmentPatch) apply(a *Appointment) {
	if p.PatientID != nil {
		a.PatientID = *p.PatientID
	}
	if p.DoctorID != nil {
		a.DoctorID = *p.DoctorID
	}
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.Time != nil {
		a.Time = *p.Time
	}
	if p.Reason != nil {
		a.Reason = *p.Reason
	}
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.PaymentAmount != nil {
		a.PaymentAmount = p.PaymentAmount
	}
	if p.PaymentMethod != nil {
		a.PaymentMethod = p.PaymentMethod
	}
	if p.PaymentDate != nil {
		a.PaymentDate = p.PaymentDate
	}
}

func bookingChanged(before, after *Appointment) bool {
	return before.PatientID != after.PatientID ||
		before.DoctorID != after.DoctorID ||
		before.Date != after.Date ||
		TimeToMinutes(before.Time) != TimeToMinutes(after.Time) ||
		before.Status.Active() != after.Status.Active()
}

// UpdateAppointment overwrites the stored appointment with p applied. When the
// result holds an active booking whose patient, doctor, date, time or
// activity changed, the booking guards are re-run excluding the appointment
// itself. Consultation hours are not re-checked.
func (s *Service) UpdateAppointment(ctx context.Context, id int64, p AppointmentPatch) (*Appointment, error) {
	return s.updateAppointment(ctx, id, p, 0)
}

// updateAppointment applies p under a row lock. A non-zero owner limits the
// update to that doctor's appointments and forbids moving them to another
// doctor or patient.
func (s *Service) updateAppointment(ctx context.Context, id int64, p AppointmentPatch, owner int64) (*Appointment, error) {
	var result *Appointment
	var from Status
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.appointments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := checkOwner(current, owner); err != nil {
			return err
		}
		before := *current
		from = before.Status
		p.apply(current)
		if owner != 0 && (current.DoctorID != owner || current.PatientID != before.PatientID) {
			return fmt.Errorf("%w: appointment %d cannot be reassigned", ErrNotOwner, id)
		}

		if !current.Status.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidStatus, current.Status)
		}
		if err := validateAppointment(current); err != nil {
			return err
		}

		if current.Status.Active() && bookingChanged(&before, current) {
			if err := s.appointments.LockPatient(ctx, current.PatientID); err != nil {
				return fmt.Errorf("lock patient %d: %w", current.PatientID, err)
			}
			if err := s.checkBookingGuards(ctx, current, id); err != nil {
				return err
			}
		}

		if err := s.appointments.Update(ctx, current); err != nil {
			return err
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from != result.Status {
		s.metrics.StatusTransition(string(from), string(result.Status))
	}
	return result, nil
}

// DoctorActions are the appointment writes a doctor may make. Each one checks
// ownership against the row locked inside the transaction.
type DoctorActions struct {
	svc      *Service
	doctorID int64
}

func (s *Service) AsDoctor(doctorID int64) DoctorActions {
	return DoctorActions{svc: s, doctorID: doctorID}
}

func (d DoctorActions) UpdateAppointment(ctx context.Context, id int64, p AppointmentPatch) (*Appointment, error) {
	if d.doctorID <= 0 {
		return nil, fmt.Errorf("%w: appointment %d", ErrNotOwner, id)
	}
	return d.svc.updateAppointment(ctx, id, p, d.doctorID)
}

func (d DoctorActions) ConfirmOutOfScheduleAppointment(ctx context.Context, id int64) (*Appointment, error) {
	if d.doctorID <= 0 {
		return nil, fmt.Errorf("%w: appointment %d", ErrNotOwner, id)
	}
	return d.svc.resolveOutOfSchedule(ctx, id, StatusConfirmed, d.doctorID)
}

func (d DoctorActions) RejectOutOfScheduleAppointment(ctx context.Context, id int64) (*Appointment, error) {
	if d.doctorID <= 0 {
		return nil, fmt.Errorf("%w: appointment %d", ErrNotOwner, id)
	}
	return d.svc.resolveOutOfSchedule(ctx, id, StatusCancelled, d.doctorID)
}

func (s *Service) DeleteAppointment(ctx context.Context, id int64) error {
	if err := s.appointments.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Int64("appointment_id", id).Msg("appointment deleted")
	return nil
}

// -- Consultation Hour --

func validateWindow(h *ConsultationHour) error {
	if h.DoctorID <= 0 {
		return invalidf("doctor_id is required")
	}
	if !h.DayOfWeek.Valid() {
		return invalidf("day_of_week must be between 0 (Sunday) and 6 (Saturday)")
	}
	start, err := ParseClock(h.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseClock(h.EndTime)
	if err != nil {
		return err
	}
	if start >= end {
		return ErrInvalidWindow
	}
	h.StartTime, h.EndTime = formatClock(start), formatClock(end)
	return nil
}

// checkOverlap rejects h when it overlaps any sibling window of the same
// doctor and day other than itself.
func (s *Service) checkOverlap(ctx context.Context, h *ConsultationHour) error {
	siblings, err := s.hours.ListByDoctorAndDay(ctx, h.DoctorID, h.DayOfWeek)
	if err != nil {
		return fmt.Errorf("load consultation hours: %w", err)
	}
	start, end := TimeToMinutes(h.StartTime), TimeToMinutes(h.EndTime)
	for _, w := range siblings {
		if h.ID != 0 && w.ID == h.ID {
			continue
		}
		if IntervalsOverlap(start, end, TimeToMinutes(w.StartTime), TimeToMinutes(w.EndTime)) {
			return fmt.Errorf("%w: %s-%s conflicts with %s-%s", ErrScheduleOverlap,
				h.StartTime, h.EndTime, w.StartTime, w.EndTime)
		}
	}
	return nil
}

func (s *Service) CreateConsultationHour(ctx context.Context, h *ConsultationHour) error {
	if err := validateWindow(h); err != nil {
		return err
	}
	h.ID = 0
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.hours.LockDoctorDay(ctx, h.DoctorID, h.DayOfWeek); err != nil {
			return fmt.Errorf("lock doctor %d %s: %w", h.DoctorID, h.DayOfWeek, err)
		}
		if err := s.checkOverlap(ctx, h); err != nil {
			return err
		}
		return s.hours.Create(ctx, h)
	})
	s.recordHourWrite("create", err)
	return err
}

// UpdateConsultationHour fully replaces the window with id h.ID.
func (s *Service) UpdateConsultationHour(ctx context.Context, h *ConsultationHour) error {
	if err := validateWindow(h); err != nil {
		return err
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.hours.GetByID(ctx, h.ID); err != nil {
			return err
		}
		if err := s.hours.LockDoctorDay(ctx, h.DoctorID, h.DayOfWeek); err != nil {
			return fmt.Errorf("lock doctor %d %s: %w", h.DoctorID, h.DayOfWeek, err)
		}
		if err := s.checkOverlap(ctx, h); err != nil {
			return err
		}
		return s.hours.Update(ctx, h)
	})
	s.recordHourWrite("update", err)
	return err
}

func (s *Service) recordHourWrite(op string, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrScheduleOverlap):
		outcome = "overlap"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	s.metrics.ConsultationHourWrite(op, outcome)
	if errors.Is(err, ErrScheduleOverlap) {
		s.logger.Info().Err(err).Str("op", op).Msg("consultation hour rejected")
	}
}

func (s *Service) DeleteConsultationHour(ctx context.Context, id int64) error {
	err := s.hours.Delete(ctx, id)
	s.recordHourWrite("delete", err)
	return err
}

func (s *Service) GetConsultationHour(ctx context.Context, id int64) (*ConsultationHour, error) {
	return s.hours.GetByID(ctx, id)
}

func (s *Service) ListConsultationHours(ctx context.Context, f ConsultationHourFilter) ([]*ConsultationHour, int, error) {
	return s.hours.List(ctx, f)
}
