package clinic

import (
	"fmt"
	"time"
)

var diasSemana = [...]string{"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado"}

var meses = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}

// DayName returns the Spanish weekday name.
func DayName(d time.Weekday) string { return diasSemana[d] }

// MonthName returns the lower-case Spanish month name.
func MonthName(m time.Month) string { return meses[m-1] }

// FormatSlot renders "Lunes 20 de octubre, 09:30 - 10:30" in the location of start.
func FormatSlot(start, end time.Time) string {
	end = end.In(start.Location())
	return fmt.Sprintf("%s %d de %s, %s - %s",
		DayName(start.Weekday()), start.Day(), MonthName(start.Month()),
		start.Format("15:04"), end.Format("15:04"))
}

// FormatDateTime renders dd/mm/YYYY HH:MM.
func FormatDateTime(t time.Time) string { return t.Format("02/01/2006 15:04") }

// FormatDate renders dd/mm/YYYY.
func FormatDate(t time.Time) string { return t.Format("02/01/2006") }

// Local converts t into the schedule zone.
func (s Schedule) Local(t time.Time) time.Time { return t.In(s.Location) }
