package mail

import (
	"fmt"
	"time"
)

var months = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// FormatLongDate renders "2025-03-12" as "12 de marzo de 2025".  Input that
// does not parse is returned unchanged.
func FormatLongDate(date string) string {
	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%d de %s de %d", d.Day(), months[d.Month()-1], d.Year())
}

// FormatTime12h renders "15:00:00" (or "15:00") as "3:00 p.m.".
func FormatTime12h(clock string) string {
	t, err := time.Parse(time.TimeOnly, clock)
	if err != nil {
		if t, err = time.Parse("15:04", clock); err != nil {
			return clock
		}
	}
	period := "a.m."
	if t.Hour() >= 12 {
		period = "p.m."
	}
	h := t.Hour() % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, t.Minute(), period)
}

// FormatDisplayDate renders the short form used on event pages:
// "12 de marzo · 3:00 p.m.".
func FormatDisplayDate(date, clock string) string {
	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%d de %s · %s", d.Day(), months[d.Month()-1], FormatTime12h(clock))
}
