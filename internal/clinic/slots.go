package clinic

import (
	"context"
	"sort"
	"time"
)

// Slot is a bookable interval. The doctor stays internal: patients are never
// told who will see them until the appointment is booked.
type Slot struct {
	Start    time.Time `json:"inicio"`
	End      time.Time `json:"fin"`
	DoctorID uint      `json:"-"`
}

// Bucket is a coarse time-of-day preference.
type Bucket string

const (
	BucketAny       Bucket = ""
	BucketMorning   Bucket = "manana"
	BucketAfternoon Bucket = "tarde"
	BucketEvening   Bucket = "noche"
)

// Contains reports whether the local hour of t falls inside the bucket.
func (b Bucket) Contains(t time.Time) bool {
	h := t.Hour()
	switch b {
	case BucketMorning:
		return h < 12
	case BucketAfternoon:
		return h >= 12 && h < 18
	case BucketEvening:
		return h >= 18
	}
	return true
}

// Preference is what the patient asked for. Zero value means "anything".
type Preference struct {
	Date   *time.Time
	Bucket Bucket
	// Minutes after midnight of an explicit time, -1 when none.
	At int
}

// AnyPreference accepts every slot.
func AnyPreference() Preference { return Preference{At: -1} }

type busyInterval struct {
	start, end time.Time
}

// AvailableSlots lists free slots from now over the look-ahead window. Each
// slot is assigned to the first free doctor in turn order.
func (s *Service) AvailableSlots(ctx context.Context, days int) ([]Slot, error) {
	if days <= 0 {
		days = s.lookahead
	}
	now := s.now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.schedule.Location)
	return s.slotsBetween(ctx, from, from.AddDate(0, 0, days))
}

// SlotsOn lists free slots for the calendar day of date.
func (s *Service) SlotsOn(ctx context.Context, date time.Time) ([]Slot, error) {
	local := date.In(s.schedule.Location)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.schedule.Location)
	return s.slotsBetween(ctx, from, from.AddDate(0, 0, 1))
}

func (s *Service) slotsBetween(ctx context.Context, from, to time.Time) ([]Slot, error) {
	doctors, err := s.TurnOrder(ctx)
	if err != nil {
		return nil, err
	}
	if len(doctors) == 0 {
		return nil, nil
	}

	var booked []Appointment
	err = s.db.WithContext(ctx).
		Where("estado <> ?", StatusCancelled).
		Where("fecha_hora_inicio < ? AND fecha_hora_fin > ?", to.UTC(), from.UTC()).
		Find(&booked).Error
	if err != nil {
		return nil, err
	}
	busy := make(map[uint][]busyInterval, len(doctors))
	for _, a := range booked {
		busy[a.DoctorID] = append(busy[a.DoctorID], busyInterval{a.FechaHoraInicio, a.FechaHoraFin})
	}

	now := s.now()
	var out []Slot
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		for _, slot := range s.schedule.DaySlots(day) {
			if !slot.Start.After(now) {
				continue
			}
			for _, d := range doctors {
				if !overlapsAny(busy[d.ID], slot.Start, slot.End) {
					slot.DoctorID = d.ID
					out = append(out, slot)
					break
				}
			}
		}
	}
	return out, nil
}

func overlapsAny(intervals []busyInterval, start, end time.Time) bool {
	for _, iv := range intervals {
		if iv.start.Before(end) && iv.end.After(start) {
			return true
		}
	}
	return false
}

// Suggest filters slots by the preference and returns at most limit of them,
// best match first. An explicit time ranks by distance to it; otherwise slots
// keep chronological order.
func Suggest(slots []Slot, pref Preference, limit int) []Slot {
	var candidates []Slot
	for _, sl := range slots {
		if pref.Date != nil && !sameDay(sl.Start, *pref.Date) {
			continue
		}
		if !pref.Bucket.Contains(sl.Start) {
			continue
		}
		candidates = append(candidates, sl)
	}
	if pref.At >= 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			return distance(candidates[i], pref.At) < distance(candidates[j], pref.At)
		})
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func distance(s Slot, at int) int {
	m := s.Start.Hour()*60 + s.Start.Minute()
	d := m - at
	if d < 0 {
		d = -d
	}
	// Same distance on another day should lose to an earlier day.
	return d*1000 + s.Start.YearDay()
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
