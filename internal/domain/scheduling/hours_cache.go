package scheduling

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/db"
)

// JSONCache is the slice of *cache.Cache used for consultation hours.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

// cachedHourRepo serves ListByDoctorAndDay from a cache outside transactions.
// Guarded writes always read through to the database because they run in a
// transaction. Writes drop the affected (doctor, day) keys, and drop them
// again once the transaction commits so a read racing the write cannot leave
// pre-commit rows cached until the TTL.
type cachedHourRepo struct {
	ConsultationHourRepository
	cache  JSONCache
	logger zerolog.Logger
}

func NewCachedConsultationHourRepo(next ConsultationHourRepository, cache JSONCache, logger zerolog.Logger) ConsultationHourRepository {
	return &cachedHourRepo{ConsultationHourRepository: next, cache: cache, logger: logger}
}

func hoursKey(doctorID int64, day Weekday) string {
	return fmt.Sprintf("consultation_hours:%d:%d", doctorID, day)
}

func (r *cachedHourRepo) ListByDoctorAndDay(ctx context.Context, doctorID int64, day Weekday) ([]*ConsultationHour, error) {
	if db.TxFromContext(ctx) != nil {
		return r.ConsultationHourRepository.ListByDoctorAndDay(ctx, doctorID, day)
	}

	key := hoursKey(doctorID, day)
	var cached []*ConsultationHour
	hit, err := r.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("consultation hour cache read failed")
	}
	if hit {
		return cached, nil
	}

	items, err := r.ConsultationHourRepository.ListByDoctorAndDay(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetJSON(ctx, key, items); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("consultation hour cache write failed")
	}
	return items, nil
}

func (r *cachedHourRepo) invalidate(ctx context.Context, keys ...string) {
	r.drop(ctx, keys)
	if db.TxFromContext(ctx) != nil {
		db.AfterCommit(ctx, func(ctx context.Context) { r.drop(ctx, keys) })
	}
}

func (r *cachedHourRepo) drop(ctx context.Context, keys []string) {
	if err := r.cache.Delete(ctx, keys...); err != nil {
		r.logger.Warn().Err(err).Strs("keys", keys).Msg("consultation hour cache invalidation failed")
	}
}

func (r *cachedHourRepo) Create(ctx context.Context, h *ConsultationHour) error {
	if err := r.ConsultationHourRepository.Create(ctx, h); err != nil {
		return err
	}
	r.invalidate(ctx, hoursKey(h.DoctorID, h.DayOfWeek))
	return nil
}

func (r *cachedHourRepo) Update(ctx context.Context, h *ConsultationHour) error {
	old, err := r.ConsultationHourRepository.GetByID(ctx, h.ID)
	if err != nil {
		return err
	}
	if err := r.ConsultationHourRepository.Update(ctx, h); err != nil {
		return err
	}
	r.invalidate(ctx, hoursKey(old.DoctorID, old.DayOfWeek), hoursKey(h.DoctorID, h.DayOfWeek))
	return nil
}

func (r *cachedHourRepo) Delete(ctx context.Context, id int64) error {
	old, err := r.ConsultationHourRepository.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.ConsultationHourRepository.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, hoursKey(old.DoctorID, old.DayOfWeek))
	return nil
}
