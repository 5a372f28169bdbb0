package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/dateutil"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Any signed-in caller. Patients are scoped to their own records below.
	anyRole := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleSecretary, auth.RolePatient))
	anyRole.POST("/appointments", h.CreateAppointment)
	anyRole.GET("/appointments", h.ListAppointments)
	anyRole.GET("/appointments/availability", h.CheckAvailability)
	anyRole.GET("/appointments/:id", h.GetAppointment)
	anyRole.GET("/doctor-consultation-hours", h.ListConsultationHours)
	anyRole.GET("/doctor-consultation-hours/:id", h.GetConsultationHour)

	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleSecretary))
	staff.PUT("/appointments/:id", h.UpdateAppointment)
	staff.POST("/doctor-consultation-hours", h.CreateConsultationHour)
	staff.PUT("/doctor-consultation-hours/:id", h.UpdateConsultationHour)
	staff.DELETE("/doctor-consultation-hours/:id", h.DeleteConsultationHour)

	desk := api.Group("", auth.RequireRole(auth.RoleSecretary))
	desk.GET("/appointments/all", h.ListAllAppointments)
	desk.DELETE("/appointments/:id", h.DeleteAppointment)

	doctors := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctors.PUT("/appointments/:id/confirm", h.ConfirmAppointment)
	doctors.PUT("/appointments/:id/reject", h.RejectAppointment)
}

// httpError maps service errors to HTTP status codes. Unknown errors become
// a 500 whose detail is only logged.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner):
		return echo.NewHTTPError(http.StatusForbidden, ErrNotOwner.Error())
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
	}
	return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseOptionalID(c echo.Context, name string) (*int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func parseOptionalDate(c echo.Context, name string) (string, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return "", nil
	}
	if _, err := time.Parse(dateLayout, raw); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, name+" must match YYYY-MM-DD")
	}
	return raw, nil
}

type caller struct {
	role     string
	entityID int64
}

func callerFrom(c echo.Context) caller {
	ctx := c.Request().Context()
	return caller{role: auth.RoleFromContext(ctx), entityID: auth.EntityIDFromContext(ctx)}
}

func (cl caller) is(role string) bool { return cl.role == role }

func forbidden(msg string) error {
	return echo.NewHTTPError(http.StatusForbidden, msg)
}

// paymentDate rejects payment dates after today.
func (h *Handler) paymentDate(d dateutil.Date) (*string, error) {
	if d == "" {
		return nil, nil
	}
	parts, err := d.Parts()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "payment_date must match YYYY-MM-DD")
	}
	s, err := dateutil.Format(parts, dateutil.Options{RejectFuture: true, Now: h.now})
	switch {
	case errors.Is(err, dateutil.ErrFutureDate):
		return nil, echo.NewHTTPError(http.StatusBadRequest, "payment_date cannot be in the future")
	case err != nil:
		return nil, echo.NewHTTPError(http.StatusBadRequest, "payment_date: "+err.Error())
	}
	return &s, nil
}

// -- Appointment Handlers --

type createAppointmentRequest struct {
	PatientID       int64         `json:"patient_id" validate:"required,gt=0"`
	DoctorID        int64         `json:"doctor_id" validate:"required,gt=0"`
	Date            string        `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string        `json:"time" validate:"required,clock"`
	Reason          string        `json:"reason" validate:"max=1000"`
	Type            string        `json:"type" validate:"omitempty,oneof=new followup walkin emergency"`
	PaymentAmount   *float64      `json:"payment_amount" validate:"omitempty,gte=0"`
	PaymentMethod   *string       `json:"payment_method" validate:"omitempty,oneof=cash card upi"`
	PaymentDate     dateutil.Date `json:"payment_date"`
	IsOutOfSchedule bool          `json:"isOutOfSchedule"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req createAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if cl := callerFrom(c); cl.is(auth.RolePatient) {
		req.PatientID = cl.entityID
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	paid, err := h.paymentDate(req.PaymentDate)
	if err != nil {
		return err
	}

	a := &Appointment{
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		Date:          req.Date,
		Time:          req.Time,
		Reason:        req.Reason,
		Type:          req.Type,
		PaymentAmount: req.PaymentAmount,
		PaymentMethod: req.PaymentMethod,
		PaymentDate:   paid,
	}
	if err := h.svc.CreateAppointment(c.Request().Context(), a, req.IsOutOfSchedule); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if cl := callerFrom(c); cl.is(auth.RolePatient) && a.PatientID != cl.entityID {
		return forbidden("appointment belongs to another patient")
	}
	return c.JSON(http.StatusOK, a)
}

func appointmentFilterFrom(c echo.Context) (AppointmentFilter, error) {
	var f AppointmentFilter
	var err error
	if f.PatientID, err = parseOptionalID(c, "patient_id"); err != nil {
		return f, err
	}
	if f.DoctorID, err = parseOptionalID(c, "doctor_id"); err != nil {
		return f, err
	}
	if f.Date, err = parseOptionalDate(c, "date"); err != nil {
		return f, err
	}
	if f.From, err = parseOptionalDate(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseOptionalDate(c, "to"); err != nil {
		return f, err
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, Status(s))
			}
		}
	}
	f.OrderBy = c.QueryParam("order_by")
	f.OrderDir = c.QueryParam("order")
	return f, nil
}

// ListAppointments filters by the query string. Patients only see their own
// appointments and doctors only their own schedule.
func (h *Handler) ListAppointments(c echo.Context) error {
	f, err := appointmentFilterFrom(c)
	if err != nil {
		return err
	}
	cl := callerFrom(c)
	switch {
	case cl.is(auth.RolePatient):
		f.PatientID = &cl.entityID
	case cl.is(auth.RoleDoctor):
		f.DoctorID = &cl.entityID
	}

	pg := pagination.FromContext(c)
	f.Limit, f.Offset = pg.Limit, pg.Offset

	items, total, err := h.svc.ListAppointments(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

func (h *Handler) ListAllAppointments(c echo.Context) error {
	items, err := h.svc.ListAllAppointments(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	doctorID, err := parseOptionalID(c, "doctor_id")
	if err != nil {
		return err
	}
	if doctorID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	avail, err := h.svc.CheckAvailability(c.Request().Context(), *doctorID, c.QueryParam("date"), c.QueryParam("time"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, avail)
}

type updateAppointmentRequest struct {
	PatientID     *int64         `json:"patient_id" validate:"omitempty,gt=0"`
	DoctorID      *int64         `json:"doctor_id" validate:"omitempty,gt=0"`
	Date          *string        `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time          *string        `json:"time" validate:"omitempty,clock"`
	Reason        *string        `json:"reason" validate:"omitempty,max=1000"`
	Type          *string        `json:"type" validate:"omitempty,oneof=new followup walkin emergency"`
	Status        *string        `json:"status" validate:"omitempty,oneof=pending confirmed pending_confirmation cancelled completed"`
	PaymentAmount *float64       `json:"payment_amount" validate:"omitempty,gte=0"`
	PaymentMethod *string        `json:"payment_method" validate:"omitempty,oneof=cash card upi"`
	PaymentDate   *dateutil.Date `json:"payment_date"`
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req updateAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	p := AppointmentPatch{
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		Date:          req.Date,
		Time:          req.Time,
		Reason:        req.Reason,
		Type:          req.Type,
		PaymentAmount: req.PaymentAmount,
		PaymentMethod: req.PaymentMethod,
	}
	if req.Status != nil {
		st := Status(*req.Status)
		p.Status = &st
	}
	if req.PaymentDate != nil {
		if p.PaymentDate, err = h.paymentDate(*req.PaymentDate); err != nil {
			return err
		}
	}

	update := h.svc.UpdateAppointment
	if cl := callerFrom(c); cl.is(auth.RoleDoctor) {
		update = h.svc.AsDoctor(cl.entityID).UpdateAppointment
	}
	a, err := update(c.Request().Context(), id, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAppointment(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	resolve := h.svc.ConfirmOutOfScheduleAppointment
	if cl := callerFrom(c); cl.is(auth.RoleDoctor) {
		resolve = h.svc.AsDoctor(cl.entityID).ConfirmOutOfScheduleAppointment
	}
	return h.resolveOutOfSchedule(c, resolve)
}

func (h *Handler) RejectAppointment(c echo.Context) error {
	resolve := h.svc.RejectOutOfScheduleAppointment
	if cl := callerFrom(c); cl.is(auth.RoleDoctor) {
		resolve = h.svc.AsDoctor(cl.entityID).RejectOutOfScheduleAppointment
	}
	return h.resolveOutOfSchedule(c, resolve)
}

func (h *Handler) resolveOutOfSchedule(c echo.Context, resolve func(context.Context, int64) (*Appointment, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := resolve(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Consultation Hour Handlers --

type consultationHourRequest struct {
	DoctorID  int64    `json:"doctor_id" validate:"required,gt=0"`
	DayOfWeek *Weekday `json:"day_of_week" validate:"required"`
	StartTime string   `json:"start_time" validate:"required,clock"`
	EndTime   string   `json:"end_time" validate:"required,clock"`
}

func (h *Handler) bindConsultationHour(c echo.Context) (*ConsultationHour, error) {
	var req consultationHourRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if cl := callerFrom(c); cl.is(auth.RoleDoctor) {
		req.DoctorID = cl.entityID
	}
	if err := c.Validate(&req); err != nil {
		return nil, err
	}
	return &ConsultationHour{
		DoctorID:  req.DoctorID,
		DayOfWeek: *req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}, nil
}

// requireHourOwner stops doctors from editing another doctor's hours.
func (h *Handler) requireHourOwner(c echo.Context, id int64) error {
	cl := callerFrom(c)
	if !cl.is(auth.RoleDoctor) {
		return nil
	}
	existing, err := h.svc.GetConsultationHour(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if existing.DoctorID != cl.entityID {
		return forbidden("consultation hour belongs to another doctor")
	}
	return nil
}

func (h *Handler) CreateConsultationHour(c echo.Context) error {
	ch, err := h.bindConsultationHour(c)
	if err != nil {
		return err
	}
	if err := h.svc.CreateConsultationHour(c.Request().Context(), ch); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ch)
}

func (h *Handler) GetConsultationHour(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ch, err := h.svc.GetConsultationHour(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *Handler) ListConsultationHours(c echo.Context) error {
	var f ConsultationHourFilter
	var err error
	if f.DoctorID, err = parseOptionalID(c, "doctor_id"); err != nil {
		return err
	}
	if raw := c.QueryParam("day_of_week"); raw != "" {
		day, err := ParseWeekday(raw)
		if err != nil {
			return httpError(err)
		}
		f.DayOfWeek = &day
	}
	pg := pagination.FromContext(c)
	f.Limit, f.Offset = pg.Limit, pg.Offset

	items, total, err := h.svc.ListConsultationHours(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

func (h *Handler) UpdateConsultationHour(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ch, err := h.bindConsultationHour(c)
	if err != nil {
		return err
	}
	if err := h.requireHourOwner(c, id); err != nil {
		return err
	}
	ch.ID = id
	if err := h.svc.UpdateConsultationHour(c.Request().Context(), ch); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *Handler) DeleteConsultationHour(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.requireHourOwner(c, id); err != nil {
		return err
	}
	if err := h.svc.DeleteConsultationHour(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
