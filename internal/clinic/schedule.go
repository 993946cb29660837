package clinic

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimezone is the clinic's local zone.
const DefaultTimezone = "America/Tijuana"

// Hours is an opening window expressed as minutes after midnight.
type Hours struct {
	Open  int
	Close int
}

func (h Hours) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", h.Open/60, h.Open%60, h.Close/60, h.Close%60)
}

// Schedule describes when the clinic takes appointments.
type Schedule struct {
	Location   *time.Location
	Days       map[time.Weekday]Hours
	SlotLength time.Duration
}

// DefaultSchedule opens Monday, Thursday, Friday and the weekend. Weekdays run
// 08:30-18:30 and weekends 10:30-17:30, in one hour slots.
func DefaultSchedule(loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	weekday := Hours{Open: 8*60 + 30, Close: 18*60 + 30}
	weekend := Hours{Open: 10*60 + 30, Close: 17*60 + 30}
	return Schedule{
		Location: loc,
		Days: map[time.Weekday]Hours{
			time.Monday:   weekday,
			time.Thursday: weekday,
			time.Friday:   weekday,
			time.Saturday: weekend,
			time.Sunday:   weekend,
		},
		SlotLength: time.Hour,
	}
}

type scheduleFile struct {
	SlotMinutes int `yaml:"slot_minutes"`
	Days        map[string]struct {
		Open  string `yaml:"open"`
		Close string `yaml:"close"`
	} `yaml:"days"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "domingo": time.Sunday,
	"monday": time.Monday, "lunes": time.Monday,
	"tuesday": time.Tuesday, "martes": time.Tuesday,
	"wednesday": time.Wednesday, "miercoles": time.Wednesday, "miércoles": time.Wednesday,
	"thursday": time.Thursday, "jueves": time.Thursday,
	"friday": time.Friday, "viernes": time.Friday,
	"saturday": time.Saturday, "sabado": time.Saturday, "sábado": time.Saturday,
}

// LoadSchedule reads a YAML schedule file. An empty path returns the default schedule.
func LoadSchedule(path string, loc *time.Location) (Schedule, error) {
	if path == "" {
		return DefaultSchedule(loc), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("read schedule file: %w", err)
	}
	return ParseSchedule(raw, loc)
}

// ParseSchedule decodes a YAML schedule document.
func ParseSchedule(raw []byte, loc *time.Location) (Schedule, error) {
	var f scheduleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Schedule{}, fmt.Errorf("decode schedule: %w", err)
	}
	if len(f.Days) == 0 {
		return Schedule{}, fmt.Errorf("schedule has no open days")
	}

	s := DefaultSchedule(loc)
	s.Days = make(map[time.Weekday]Hours, len(f.Days))
	if f.SlotMinutes > 0 {
		s.SlotLength = time.Duration(f.SlotMinutes) * time.Minute
	}
	for name, d := range f.Days {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return Schedule{}, fmt.Errorf("unknown weekday %q", name)
		}
		open, err := parseClock(d.Open)
		if err != nil {
			return Schedule{}, fmt.Errorf("%s open: %w", name, err)
		}
		closeAt, err := parseClock(d.Close)
		if err != nil {
			return Schedule{}, fmt.Errorf("%s close: %w", name, err)
		}
		if closeAt <= open {
			return Schedule{}, fmt.Errorf("%s closes before it opens", name)
		}
		s.Days[wd] = Hours{Open: open, Close: closeAt}
	}
	return s, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// HoursOn returns the opening window for a weekday.
func (s Schedule) HoursOn(day time.Weekday) (Hours, bool) {
	h, ok := s.Days[day]
	return h, ok
}

// Window returns the concrete open and close instants for the calendar day of t.
func (s Schedule) Window(t time.Time) (time.Time, time.Time, bool) {
	local := t.In(s.Location)
	h, ok := s.HoursOn(local.Weekday())
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	return midnight.Add(time.Duration(h.Open) * time.Minute), midnight.Add(time.Duration(h.Close) * time.Minute), true
}

// Check classifies [start, end) against the opening hours. It returns an empty
// reason when the interval fits.
func (s Schedule) Check(start, end time.Time) Reason {
	open, closeAt, ok := s.Window(start)
	if !ok {
		return ReasonClosedDay
	}
	if start.Before(open) || end.After(closeAt) || !end.After(start) {
		return ReasonOutsideHours
	}
	return ""
}

// DaySlots lists every slot of the calendar day of t, ignoring bookings.
func (s Schedule) DaySlots(t time.Time) []Slot {
	open, closeAt, ok := s.Window(t)
	if !ok {
		return nil
	}
	var out []Slot
	for start := open; !start.Add(s.SlotLength).After(closeAt); start = start.Add(s.SlotLength) {
		out = append(out, Slot{Start: start, End: start.Add(s.SlotLength)})
	}
	return out
}
