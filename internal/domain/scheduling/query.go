package scheduling

import (
	"fmt"
	"strings"
)

// appointmentOrderColumns maps the public order_by names to columns. Anything
// else is dropped so column names never reach SQL from user input.
var appointmentOrderColumns = map[string]string{
	"appointment_id": "id",
	"patient_id":     "patient_id",
	"doctor_id":      "doctor_id",
	"date":           "date",
	"time":           "time",
	"status":         "status",
	"type":           "type",
}

type whereBuilder struct {
	clause strings.Builder
	args   []interface{}
}

// and appends " AND <cond>" where cond contains a single %d placeholder index.
func (b *whereBuilder) and(cond string, arg interface{}) {
	b.args = append(b.args, arg)
	b.clause.WriteString(" AND ")
	fmt.Fprintf(&b.clause, cond, len(b.args))
}

func (b *whereBuilder) String() string { return " WHERE 1=1" + b.clause.String() }

type builtQuery struct {
	sql       string
	countSQL  string
	args      []interface{}
	countArgs []interface{}
}

func orderClause(orderBy, dir string) string {
	col, ok := appointmentOrderColumns[strings.ToLower(strings.TrimSpace(orderBy))]
	if !ok {
		return ""
	}
	if strings.EqualFold(strings.TrimSpace(dir), "desc") {
		return " ORDER BY " + col + " DESC"
	}
	return " ORDER BY " + col + " ASC"
}

func buildAppointmentQuery(f AppointmentFilter) builtQuery {
	var w whereBuilder

	if f.PatientID != nil {
		w.and("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		w.and("doctor_id = $%d", *f.DoctorID)
	}
	if f.Date != "" {
		w.and("date = $%d::date", f.Date)
	}
	if f.From != "" {
		w.and("date >= $%d::date", f.From)
	}
	if f.To != "" {
		w.and("date <= $%d::date", f.To)
	}
	switch len(f.Statuses) {
	case 0:
	case 1:
		w.and("status = $%d", string(f.Statuses[0]))
	default:
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.and("status = ANY($%d)", statuses)
	}

	where := w.String()
	q := builtQuery{
		countSQL:  `SELECT COUNT(*) FROM appointment` + where,
		countArgs: w.args,
	}

	order := orderClause(f.OrderBy, f.OrderDir)
	if order == "" {
		// Stable pages when order_by is absent or not allowed.
		order = " ORDER BY id ASC"
	}
	args := append([]interface{}{}, w.args...)
	sql := `SELECT ` + appointmentCols + ` FROM appointment` + where + order
	if f.Limit > 0 {
		sql += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		sql += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, f.Offset)
	}

	q.sql = sql
	q.args = args
	return q
}

func buildConsultationHourQuery(f ConsultationHourFilter) builtQuery {
	var w whereBuilder
	if f.DoctorID != nil {
		w.and("doctor_id = $%d", *f.DoctorID)
	}
	if f.DayOfWeek != nil {
		w.and("day_of_week = $%d", int(*f.DayOfWeek))
	}

	where := w.String()
	args := append([]interface{}{}, w.args...)
	sql := `SELECT ` + hourCols + ` FROM consultation_hour` + where + ` ORDER BY doctor_id, day_of_week, start_time`
	if f.Limit > 0 {
		sql += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		sql += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, f.Offset)
	}
	return builtQuery{
		sql:       sql,
		countSQL:  `SELECT COUNT(*) FROM consultation_hour` + where,
		args:      args,
		countArgs: w.args,
	}
}
