package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode selects the granularity of a Window.
type Mode int

const (
	MonthMode Mode = iota
	YearMode
)

var (
	ErrInvalidMode  = errors.New("invalid window mode")
	ErrInvalidYear  = errors.New("invalid year")
	ErrInvalidMonth = errors.New("invalid month")
)

func (m Mode) String() string {
	if m == YearMode {
		return "year"
	}
	return "month"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "month", "":
		return MonthMode, nil
	case "year":
		return YearMode, nil
	}
	return MonthMode, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Window is the active query scope: a calendar month or a calendar year.
// Month is 0 in year mode. Windows are values; compare them with ==.
type Window struct {
	Mode  Mode `json:"mode"`
	Year  int  `json:"year"`
	Month int  `json:"month,omitempty"`
}

// MonthWindow builds a month-mode window.
func MonthWindow(year, month int) Window {
	return Window{Mode: MonthMode, Year: year, Month: month}
}

// YearWindow builds a year-mode window.
func YearWindow(year int) Window {
	return Window{Mode: YearMode, Year: year}
}

// NewWindow builds a window for mode, ignoring month in year mode.
func NewWindow(mode Mode, year, month int) Window {
	if mode == YearMode {
		return YearWindow(year)
	}
	return MonthWindow(year, month)
}

// CurrentWindow is the calendar month containing now.
func CurrentWindow(now time.Time) Window {
	return MonthWindow(now.Year(), int(now.Month()))
}

func (w Window) Validate() error {
	if w.Mode != MonthMode && w.Mode != YearMode {
		return ErrInvalidMode
	}
	if w.Year < 1970 || w.Year > 9999 {
		return fmt.Errorf("%w: %d", ErrInvalidYear, w.Year)
	}
	if w.Mode == MonthMode && (w.Month < 1 || w.Month > 12) {
		return fmt.Errorf("%w: %d", ErrInvalidMonth, w.Month)
	}
	if w.Mode == YearMode && w.Month != 0 {
		return fmt.Errorf("%w: year window carries month %d", ErrInvalidMonth, w.Month)
	}
	return nil
}

// Range returns [start, end) in loc: first instant of the month (or Jan 1)
// to the first instant of the next one.
func (w Window) Range(loc *time.Location) (time.Time, time.Time) {
	if w.Mode == YearMode {
		start := time.Date(w.Year, time.January, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	}
	start := time.Date(w.Year, time.Month(w.Month), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time, loc *time.Location) bool {
	start, end := w.Range(loc)
	return !t.Before(start) && t.Before(end)
}

// Days is the number of calendar days in a month window.
func (w Window) Days() int {
	if w.Mode == YearMode {
		return time.Date(w.Year+1, time.January, 0, 0, 0, 0, 0, time.UTC).YearDay()
	}
	return time.Date(w.Year, time.Month(w.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Periods is the average divisor: days in the month, or 12 for a year.
func (w Window) Periods() int {
	if w.Mode == YearMode {
		return 12
	}
	return w.Days()
}

// Next returns the following month or year.
func (w Window) Next() Window {
	if w.Mode == YearMode {
		return YearWindow(w.Year + 1)
	}
	t := time.Date(w.Year, time.Month(w.Month)+1, 1, 0, 0, 0, 0, time.UTC)
	return MonthWindow(t.Year(), int(t.Month()))
}

// Prev returns the preceding month or year.
func (w Window) Prev() Window {
	if w.Mode == YearMode {
		return YearWindow(w.Year - 1)
	}
	t := time.Date(w.Year, time.Month(w.Month)-1, 1, 0, 0, 0, 0, time.UTC)
	return MonthWindow(t.Year(), int(t.Month()))
}

// Before orders windows of the same mode chronologically.
func (w Window) Before(o Window) bool {
	if w.Year != o.Year {
		return w.Year < o.Year
	}
	return w.Month < o.Month
}

// WindowOf returns the window of mode containing t.
func WindowOf(mode Mode, t time.Time) Window {
	return NewWindow(mode, t.Year(), int(t.Month()))
}

// String is "2024-05" for months and "2024" for years.
func (w Window) String() string {
	if w.Mode == YearMode {
		return strconv.Itoa(w.Year)
	}
	return fmt.Sprintf("%04d-%02d", w.Year, w.Month)
}

// Key identifies the window in caches and logs.
func (w Window) Key() string {
	return w.Mode.String() + ":" + w.String()
}

// PickerTab is one selectable entry of the window picker.
type PickerTab struct {
	Label    string `json:"label"`
	Window   Window `json:"window"`
	Selected bool   `json:"selected"`
}

// PickerWindows lists the windows offered around now: six months either
// side in month mode, two years either side in year mode. The current
// window is marked selected.
func PickerWindows(now time.Time, mode Mode) []PickerTab {
	if mode == YearMode {
		tabs := make([]PickerTab, 0, 5)
		for i := -2; i <= 2; i++ {
			y := now.Year() + i
			label := strconv.Itoa(y)
			switch i {
			case 0:
				label = "This year"
			case -1:
				label = "Last year"
			case 1:
				label = "Next year"
			}
			tabs = append(tabs, PickerTab{Label: label, Window: YearWindow(y), Selected: i == 0})
		}
		return tabs
	}

	tabs := make([]PickerTab, 0, 13)
	base := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := -6; i <= 6; i++ {
		d := base.AddDate(0, i, 0)
		var label string
		switch {
		case i == 0:
			label = "This month"
		case i == -1:
			label = "Last month"
		case d.Year() != now.Year():
			label = fmt.Sprintf("%d-%02d", d.Year(), int(d.Month()))
		default:
			label = fmt.Sprintf("%02d", int(d.Month()))
		}
		tabs = append(tabs, PickerTab{
			Label:    label,
			Window:   MonthWindow(d.Year(), int(d.Month())),
			Selected: i == 0,
		})
	}
	return tabs
}
