//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/db"
)

func TestBooking_Lifecycle(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newService()
	addHours(t, svc, 1, scheduling.Monday, "09:00", "12:00")

	a := book(100, 1, monday, "10:00")
	require.NoError(t, svc.CreateAppointment(ctx, a, false))
	assert.NotZero(t, a.ID)
	assert.Equal(t, scheduling.StatusPending, a.Status)

	got, err := svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, monday, got.Date)
	assert.Equal(t, "10:00", got.Time)
	assert.Equal(t, "checkup", got.Reason)

	err = svc.CreateAppointment(ctx, book(100, 1, tuesday, "10:00"), false)
	assert.ErrorIs(t, err, scheduling.ErrDuplicateActiveAppointment)

	err = svc.CreateAppointment(ctx, book(101, 1, monday, "12:00"), false)
	assert.ErrorIs(t, err, scheduling.ErrDoctorUnavailable, "end of window is exclusive")

	require.NoError(t, svc.DeleteAppointment(ctx, a.ID))
	_, err = svc.GetAppointment(ctx, a.ID)
	assert.ErrorIs(t, err, scheduling.ErrNotFound)
}

func TestBooking_OutOfScheduleConfirmAndReject(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newService()

	a := book(100, 1, monday, "18:30")
	require.NoError(t, svc.CreateAppointment(ctx, a, true))
	assert.Equal(t, scheduling.StatusPendingConfirmation, a.Status)

	confirmed, err := svc.ConfirmOutOfScheduleAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusConfirmed, confirmed.Status)

	_, err = svc.RejectOutOfScheduleAppointment(ctx, a.ID)
	assert.ErrorIs(t, err, scheduling.ErrInvalidTransition)

	b := book(101, 1, monday, "19:00")
	require.NoError(t, svc.CreateAppointment(ctx, b, true))
	rejected, err := svc.RejectOutOfScheduleAppointment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCancelled, rejected.Status)

	stored, err := svc.GetAppointment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCancelled, stored.Status)
}

func TestBooking_SameSlotOtherDoctor(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newService()
	addHours(t, svc, 1, scheduling.Monday, "09:00", "12:00")
	addHours(t, svc, 2, scheduling.Monday, "09:00", "12:00")

	require.NoError(t, svc.CreateAppointment(ctx, book(100, 1, monday, "10:00"), false))
	err := svc.CreateAppointment(ctx, book(100, 2, monday, "10:00"), false)
	assert.ErrorIs(t, err, scheduling.ErrSlotTaken)

	require.NoError(t, svc.CreateAppointment(ctx, book(100, 2, monday, "10:30"), false))
}

func TestBooking_CancelledFreesDoctor(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newService()
	addHours(t, svc, 1, scheduling.Monday, "09:00", "12:00")

	a := book(100, 1, monday, "10:00")
	require.NoError(t, svc.CreateAppointment(ctx, a, false))

	cancelled := scheduling.StatusCancelled
	_, err := svc.UpdateAppointment(ctx, a.ID, scheduling.AppointmentPatch{Status: &cancelled})
	require.NoError(t, err)

	require.NoError(t, svc.CreateAppointment(ctx, book(100, 1, monday, "10:00"), false))
}

func TestRepo_UniqueIndexesBackstopGuards(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := scheduling.NewAppointmentRepoPG(env.Pool)

	first := book(100, 1, monday, "10:00")
	first.Status = scheduling.StatusPending
	require.NoError(t, repo.Create(ctx, first))

	sameDoctor := book(100, 1, tuesday, "11:00")
	sameDoctor.Status = scheduling.StatusPending
	assert.ErrorIs(t, repo.Create(ctx, sameDoctor), scheduling.ErrDuplicateActiveAppointment)

	sameSlot := book(100, 2, monday, "10:00")
	sameSlot.Status = scheduling.StatusConfirmed
	assert.ErrorIs(t, repo.Create(ctx, sameSlot), scheduling.ErrSlotTaken)

	inactive := book(100, 1, monday, "10:00")
	inactive.Status = scheduling.StatusCompleted
	assert.NoError(t, repo.Create(ctx, inactive), "completed bookings are outside the partial indexes")
}

func TestRepo_PaymentFieldsRoundTrip(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := scheduling.NewAppointmentRepoPG(env.Pool)

	amount := 49.5
	method := "card"
	paid := "2024-05-30"
	a := book(100, 1, monday, "09:15")
	a.Status = scheduling.StatusPending
	a.PaymentAmount, a.PaymentMethod, a.PaymentDate = &amount, &method, &paid
	require.NoError(t, repo.Create(ctx, a))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PaymentAmount)
	assert.InDelta(t, 49.5, *got.PaymentAmount, 0.001)
	assert.Equal(t, "card", *got.PaymentMethod)
	assert.Equal(t, "2024-05-30", *got.PaymentDate)
	assert.Equal(t, "09:15", got.Time)

	_, err = repo.GetByIDForUpdate(ctx, a.ID)
	assert.ErrorIs(t, err, db.ErrNoTx)
}

func TestBooking_ConcurrentSameSlot(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newService()
	const doctors = 8
	for d := int64(1); d <= doctors; d++ {
		addHours(t, svc, d, scheduling.Monday, "09:00", "12:00")
	}

	var wg sync.WaitGroup
	errs := make([]error, doctors)
	for i := 0; i < doctors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.CreateAppointment(ctx, book(100, int64(i+1), monday, "10:00"), false)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, scheduling.ErrSlotTaken):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one booking wins the slot")

	patient := int64(100)
	items, total, err := svc.ListAppointments(ctx, scheduling.AppointmentFilter{PatientID: &patient})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, items, 1)
}

func TestConsultationHours_ConcurrentOverlap(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newService()

	windows := [][2]string{{"09:00", "11:00"}, {"10:00", "12:00"}, {"10:30", "10:45"}, {"08:00", "09:30"}, {"10:59", "13:00"}}
	var wg sync.WaitGroup
	errs := make([]error, len(windows))
	for i, w := range windows {
		wg.Add(1)
		go func(i int, start, end string) {
			defer wg.Done()
			errs[i] = svc.CreateConsultationHour(ctx, &scheduling.ConsultationHour{
				DoctorID: 1, DayOfWeek: scheduling.Tuesday, StartTime: start, EndTime: end,
			})
		}(i, w[0], w[1])
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, scheduling.ErrScheduleOverlap)
		}
	}

	doctor := int64(1)
	hours, _, err := svc.ListConsultationHours(ctx, scheduling.ConsultationHourFilter{DoctorID: &doctor})
	require.NoError(t, err)
	require.NotEmpty(t, hours)
	for i := range hours {
		for j := i + 1; j < len(hours); j++ {
			a, b := hours[i], hours[j]
			assert.False(t, scheduling.IntervalsOverlap(
				scheduling.TimeToMinutes(a.StartTime), scheduling.TimeToMinutes(a.EndTime),
				scheduling.TimeToMinutes(b.StartTime), scheduling.TimeToMinutes(b.EndTime),
			), "%s-%s overlaps %s-%s", a.StartTime, a.EndTime, b.StartTime, b.EndTime)
		}
	}
}

func TestConsultationHours_UpdateExcludesSelf(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newService()
	morning := addHours(t, svc, 1, scheduling.Monday, "09:00", "12:00")
	addHours(t, svc, 1, scheduling.Monday, "14:00", "17:00")

	morning.StartTime, morning.EndTime = "08:00", "13:00"
	require.NoError(t, svc.UpdateConsultationHour(ctx, morning))

	morning.EndTime = "14:30"
	assert.ErrorIs(t, svc.UpdateConsultationHour(ctx, morning), scheduling.ErrScheduleOverlap)

	got, err := svc.GetConsultationHour(ctx, morning.ID)
	require.NoError(t, err)
	assert.Equal(t, "08:00", got.StartTime)
	assert.Equal(t, "13:00", got.EndTime)

	require.NoError(t, svc.DeleteConsultationHour(ctx, morning.ID))
	assert.ErrorIs(t, svc.DeleteConsultationHour(ctx, morning.ID), scheduling.ErrNotFound)

	missing := &scheduling.ConsultationHour{ID: 9999, DoctorID: 1, DayOfWeek: scheduling.Monday, StartTime: "08:00", EndTime: "09:00"}
	assert.ErrorIs(t, svc.UpdateConsultationHour(ctx, missing), scheduling.ErrNotFound)
}

func TestListAppointments_FiltersAndOrder(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newService()
	addHours(t, svc, 1, scheduling.Monday, "08:00", "18:00")
	addHours(t, svc, 2, scheduling.Monday, "08:00", "18:00")
	addHours(t, svc, 3, scheduling.Tuesday, "08:00", "18:00")

	require.NoError(t, svc.CreateAppointment(ctx, book(100, 1, monday, "09:00"), false))
	require.NoError(t, svc.CreateAppointment(ctx, book(101, 1, monday, "15:00"), false))
	require.NoError(t, svc.CreateAppointment(ctx, book(102, 1, monday, "11:00"), false))
	require.NoError(t, svc.CreateAppointment(ctx, book(100, 2, monday, "10:00"), false))
	require.NoError(t, svc.CreateAppointment(ctx, book(100, 3, tuesday, "10:00"), false))

	doctor := int64(1)
	items, total, err := svc.ListAppointments(ctx, scheduling.AppointmentFilter{
		DoctorID: &doctor, OrderBy: "time", OrderDir: "desc",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"15:00", "11:00", "09:00"}, []string{items[0].Time, items[1].Time, items[2].Time})

	items, total, err = svc.ListAppointments(ctx, scheduling.AppointmentFilter{
		DoctorID: &doctor, Limit: 1, Offset: 1, OrderBy: "time",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, "11:00", items[0].Time)

	patient := int64(100)
	items, _, err = svc.ListAppointments(ctx, scheduling.AppointmentFilter{
		PatientID: &patient, From: tuesday, To: tuesday,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(3), items[0].DoctorID)

	items, _, err = svc.ListAppointments(ctx, scheduling.AppointmentFilter{
		DoctorID: &doctor, OrderBy: "id; DROP TABLE appointment",
	})
	require.NoError(t, err, "unknown order columns are ignored")
	assert.Len(t, items, 3)

	all, err := svc.ListAllAppointments(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestCheckAvailability(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := newService()
	addHours(t, svc, 1, scheduling.Monday, "09:00", "12:00")
	addHours(t, svc, 1, scheduling.Monday, "14:00", "17:00")

	tests := []struct {
		clock string
		want  bool
	}{
		{"08:59", false},
		{"09:00", true},
		{"11:59", true},
		{"12:00", false},
		{"14:30", true},
		{"17:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			got, err := svc.CheckAvailability(ctx, 1, monday, tt.clock)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Available)
			assert.Equal(t, scheduling.Monday, got.DayOfWeek)
		})
	}

	got, err := svc.CheckAvailability(ctx, 1, tuesday, "10:00")
	require.NoError(t, err)
	assert.False(t, got.Available)
}
