package core

import (
	"testing"
	"time"
)

func TestWindowValidate(t *testing.T) {
	cases := []struct {
		w  Window
		ok bool
	}{
		{MonthWindow(2024, 5), true},
		{YearWindow(2024), true},
		{MonthWindow(2024, 0), false},
		{MonthWindow(2024, 13), false},
		{MonthWindow(1969, 1), false},
		{Window{Mode: YearMode, Year: 2024, Month: 3}, false},
		{Window{Mode: Mode(9), Year: 2024, Month: 3}, false},
	}
	for i, tc := range cases {
		err := tc.w.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestWindowRange(t *testing.T) {
	start, end := MonthWindow(2024, 12).Range(time.UTC)
	if !start.Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected december range %v - %v", start, end)
	}
	start, end = YearWindow(2024).Range(time.UTC)
	if !start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected year range %v - %v", start, end)
	}

	w := MonthWindow(2024, 5)
	if !w.Contains(time.Date(2024, 5, 31, 23, 59, 59, 0, time.UTC), time.UTC) {
		t.Fatalf("last second of May should be inside")
	}
	if w.Contains(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.UTC) {
		t.Fatalf("June 1 should be outside (end is exclusive)")
	}
}

func TestWindowDaysAndPeriods(t *testing.T) {
	cases := []struct {
		w       Window
		periods int
	}{
		{MonthWindow(2024, 2), 29},
		{MonthWindow(2023, 2), 28},
		{MonthWindow(2024, 4), 30},
		{MonthWindow(2024, 5), 31},
		{YearWindow(2024), 12},
	}
	for _, tc := range cases {
		if got := tc.w.Periods(); got != tc.periods {
			t.Fatalf("%s expected %d periods, got %d", tc.w, tc.periods, got)
		}
	}
	if got := YearWindow(2024).Days(); got != 366 {
		t.Fatalf("expected 366 days in 2024, got %d", got)
	}
}

func TestWindowNavigation(t *testing.T) {
	if got := MonthWindow(2024, 12).Next(); got != MonthWindow(2025, 1) {
		t.Fatalf("unexpected next %v", got)
	}
	if got := MonthWindow(2024, 1).Prev(); got != MonthWindow(2023, 12) {
		t.Fatalf("unexpected prev %v", got)
	}
	if got := YearWindow(2024).Next(); got != YearWindow(2025) {
		t.Fatalf("unexpected next year %v", got)
	}
	if MonthWindow(2024, 5).String() != "2024-05" || YearWindow(2024).String() != "2024" {
		t.Fatalf("unexpected string forms")
	}
	if MonthWindow(2024, 5).Key() == YearWindow(2024).Key() {
		t.Fatalf("keys must differ across modes")
	}
}

func TestPickerWindows(t *testing.T) {
	now := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

	tabs := PickerWindows(now, MonthMode)
	if len(tabs) != 13 {
		t.Fatalf("expected 13 month tabs, got %d", len(tabs))
	}
	if tabs[0].Window != MonthWindow(2023, 8) || tabs[12].Window != MonthWindow(2024, 8) {
		t.Fatalf("unexpected range %v .. %v", tabs[0].Window, tabs[12].Window)
	}
	if tabs[6].Label != "This month" || !tabs[6].Selected {
		t.Fatalf("middle tab should be the current month, got %+v", tabs[6])
	}
	if tabs[5].Label != "Last month" {
		t.Fatalf("expected Last month, got %q", tabs[5].Label)
	}
	if tabs[0].Label != "2023-08" || tabs[7].Label != "03" {
		t.Fatalf("unexpected labels %q %q", tabs[0].Label, tabs[7].Label)
	}

	years := PickerWindows(now, YearMode)
	if len(years) != 5 || years[2].Label != "This year" || years[0].Label != "2022" {
		t.Fatalf("unexpected year tabs %+v", years)
	}
}

func TestEntryIdentity(t *testing.T) {
	r := validRecord()
	r.ID = 7
	h := Header{Date: "7"}
	it := Item{Record: r}

	if EntryKey(h) == EntryKey(it) {
		t.Fatalf("header and item must never share identity")
	}
	if EntryEqual(h, it) || EntryEqual(it, h) {
		t.Fatalf("different variants must not be equal")
	}

	changed := r
	changed.Amount = "99"
	if EntryKey(it) != EntryKey(Item{Record: changed}) {
		t.Fatalf("identity must not depend on content")
	}
	if EntryEqual(it, Item{Record: changed}) {
		t.Fatalf("content change must break equality")
	}
	if !EntriesEqual([]Entry{h, it}, []Entry{Header{Date: "7"}, Item{Record: r.Clone()}}) {
		t.Fatalf("lists with equal entries should be equal")
	}
}
