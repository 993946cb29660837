package receptionist

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/clinic-agent/server/internal/clinic"
)

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

// normalize lower-cases and strips Spanish accents so keyword matching does
// not depend on how carefully the patient typed.
func normalize(s string) string {
	return accentFolder.Replace(strings.ToLower(strings.TrimSpace(s)))
}

func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var weekdays = map[string]time.Weekday{
	"domingo": time.Sunday, "lunes": time.Monday, "martes": time.Tuesday, "miercoles": time.Wednesday,
	"jueves": time.Thursday, "viernes": time.Friday, "sabado": time.Saturday,
}

var (
	dayMonthRe    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	morningPhrase = regexp.MustCompile(`\b(?:la|las)\s+mananas?\b`)
	greetingRe    = regexp.MustCompile(`\bbuen(?:os|as)\s+(?:dias|tardes|noches)\b`)
)

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ExtractDate finds the requested day in msg relative to now. It understands
// hoy, mañana, pasado mañana, weekday names and dd/mm[/yyyy].
func ExtractDate(msg string, now time.Time) *time.Time {
	text := normalize(msg)
	today := midnight(now)
	at := func(d time.Time) *time.Time { return &d }

	if m := dayMonthRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := today.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
			if d.Day() == day {
				if m[3] == "" && d.Before(today) {
					d = d.AddDate(1, 0, 0)
				}
				return at(d)
			}
		}
	}

	if strings.Contains(text, "pasado manana") {
		return at(today.AddDate(0, 0, 2))
	}
	words := tokens(morningPhrase.ReplaceAllString(text, " "))
	for _, w := range words {
		switch w {
		case "hoy":
			return at(today)
		case "manana":
			return at(today.AddDate(0, 0, 1))
		}
	}
	for _, w := range words {
		if wd, ok := weekdays[w]; ok {
			ahead := (int(wd) - int(today.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			return at(today.AddDate(0, 0, ahead))
		}
	}
	return nil
}

// TimePreference is what ExtractTime understood about the hour.
type TimePreference struct {
	Bucket clinic.Bucket
	// Minutes after midnight, -1 when no explicit time.
	At  int
	Any bool
}

// Found reports whether the message said anything about the time.
func (p TimePreference) Found() bool {
	return p.Any || p.Bucket != clinic.BucketAny || p.At >= 0
}

var (
	clockRe = regexp.MustCompile(`(a las\s+|a la\s+)?\b(\d{1,2})(?::(\d{2}))?\s*(a\.\s?m\.|p\.\s?m\.|am|pm|hrs|hr|horas)?`)
	anyTime = []string{"cualquier hora", "cualquier horario", "a cualquier", "la que sea", "lo que sea", "me da igual", "cuando sea"}
)

// ExtractTime finds an explicit hour or a coarse time-of-day preference.
func ExtractTime(msg string) TimePreference {
	text := dayMonthRe.ReplaceAllString(normalize(msg), " ")
	text = greetingRe.ReplaceAllString(text, " ")
	pref := TimePreference{At: -1}

	for _, m := range clockRe.FindAllStringSubmatchIndex(text, -1) {
		if end := m[1]; end < len(text) && unicode.IsLetter(rune(text[end])) {
			continue
		}
		group := func(i int) string {
			if m[2*i] < 0 {
				return ""
			}
			return text[m[2*i]:m[2*i+1]]
		}
		prefix, minutes, suffix := group(1), group(3), strings.ReplaceAll(group(4), " ", "")
		if prefix == "" && minutes == "" && suffix == "" {
			continue
		}
		h, _ := strconv.Atoi(group(2))
		mm := 0
		if minutes != "" {
			mm, _ = strconv.Atoi(minutes)
		}
		switch {
		case strings.HasPrefix(suffix, "p") && h < 12:
			h += 12
		case strings.HasPrefix(suffix, "a") && h == 12:
			h = 0
		case suffix == "" && h >= 1 && h < 8:
			// The clinic never opens before eight, "a las 4" means the afternoon.
			h += 12
		}
		if h > 23 || mm > 59 {
			continue
		}
		pref.At = h*60 + mm
		break
	}
	if pref.At < 0 && strings.Contains(text, "mediodia") {
		pref.At = 12 * 60
	}

	switch {
	case morningPhrase.MatchString(text) || strings.Contains(text, "temprano") || strings.Contains(text, "matutin"):
		pref.Bucket = clinic.BucketMorning
	case strings.Contains(text, "tarde") || strings.Contains(text, "vespertin"):
		pref.Bucket = clinic.BucketAfternoon
	case strings.Contains(text, "noche") || strings.Contains(text, "nocturn"):
		pref.Bucket = clinic.BucketEvening
	}
	if pref.At >= 0 {
		pref.Bucket = clinic.BucketAny
	}

	for _, p := range anyTime {
		if strings.Contains(text, p) {
			pref.Any = true
			break
		}
	}
	return pref
}

var choiceRe = regexp.MustCompile(`^(?:(?:la|el)\s+)?(?:opcion|numero)?\s*#?\s*([1-9a-c])\s*[.)]?$`)

// ExtractChoice returns the 1-based option picked in msg, or 0.
func ExtractChoice(msg string) int {
	m := choiceRe.FindStringSubmatch(normalize(msg))
	if m == nil {
		return 0
	}
	c := m[1][0]
	if c >= 'a' && c <= 'c' {
		return int(c-'a') + 1
	}
	return int(c - '0')
}

// IsNegation reports a rejection: no, cancelar, cambiar, otro, diferente.
func IsNegation(msg string) bool {
	for _, w := range tokens(normalize(msg)) {
		switch {
		case w == "no", strings.HasPrefix(w, "cancel"), w == "cambiar", w == "otro", w == "otra", w == "diferente":
			return true
		}
	}
	return false
}

var confirmWords = map[string]bool{
	"si": true, "confirmo": true, "perfecto": true, "ok": true, "okay": true,
	"dale": true, "confirma": true, "confirmar": true, "vale": true, "correcto": true, "claro": true,
}

// IsConfirmation reports an acceptance such as sí, confirmo, ok or está bien.
func IsConfirmation(msg string) bool {
	text := normalize(msg)
	if strings.Contains(text, "esta bien") {
		return true
	}
	for _, w := range tokens(text) {
		if confirmWords[w] {
			return true
		}
	}
	return false
}

var namePrefixes = []string{"mi nombre es", "me llamo", "soy", "nombre:"}

// HeuristicName pulls a name out of msg without a model: greetings and
// introductions are dropped and each word is capitalized.
func HeuristicName(msg string) string {
	s := strings.TrimSpace(msg)
	lower := strings.ToLower(s)
	for _, greet := range []string{"hola", "buenas tardes", "buenos dias", "buenos días", "buenas noches", "buenas"} {
		if strings.HasPrefix(lower, greet) {
			s = strings.TrimLeft(s[len(greet):], " ,.!¡")
			lower = strings.ToLower(s)
			break
		}
	}
	for _, p := range namePrefixes {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.Trim(s, " .,!¡?¿:;\"'")

	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
