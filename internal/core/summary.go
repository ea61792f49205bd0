package core

import (
	"encoding/json"
	"strconv"
	"time"
)

// Entry is one row of the date-grouped display list. The only variants are
// Header and Item.
type Entry interface {
	entry()
}

// Header starts a run of records sharing the same display date.
type Header struct {
	Date string
}

// Item wraps a record shown under the preceding header.
type Item struct {
	Record Record
}

func (Header) entry() {}
func (Item) entry()   {}

// EntryKey is the identity of an entry: the date for headers, the record ID
// for items. Headers and items never share a key.
func EntryKey(e Entry) string {
	switch v := e.(type) {
	case Header:
		return "h:" + v.Date
	case Item:
		return "r:" + strconv.FormatInt(v.Record.ID, 10)
	default:
		return ""
	}
}

// EntryEqual reports whether a and b are the same variant with equal
// payloads.
func EntryEqual(a, b Entry) bool {
	switch av := a.(type) {
	case Header:
		bv, ok := b.(Header)
		return ok && av.Date == bv.Date
	case Item:
		bv, ok := b.(Item)
		return ok && av.Record.Equal(bv.Record)
	default:
		return false
	}
}

// EntriesEqual compares two lists element-wise with EntryEqual.
func EntriesEqual(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !EntryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

type entryJSON struct {
	Type   string  `json:"type"`
	Date   string  `json:"date,omitempty"`
	Record *Record `json:"record,omitempty"`
}

func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{Type: "header", Date: h.Date})
}

func (i Item) MarshalJSON() ([]byte, error) {
	r := i.Record
	return json.Marshal(entryJSON{Type: "record", Record: &r})
}

// RankingItem is one category's share of the expense total.
type RankingItem struct {
	Icon    string `json:"icon"`
	Name    string `json:"name"`
	Amount  Money  `json:"amount"`
	Percent Money  `json:"percent"`
}

// Bucket is one cell of the chart series.
type Bucket struct {
	Label  string `json:"label"`
	Amount Money  `json:"amount"`
}

// Snapshot holds every derived output for one window and kind. It is
// published by pointer and must not be modified afterwards.
type Snapshot struct {
	Window         Window        `json:"window"`
	Kind           Kind          `json:"kind"`
	Entries        []Entry       `json:"entries"`
	TotalExpense   Money         `json:"total_expense"`
	TotalIncome    Money         `json:"total_income"`
	Balance        Money         `json:"balance"`
	AverageExpense Money         `json:"average_expense"`
	AverageIncome  Money         `json:"average_income"`
	Ranking        []RankingItem `json:"ranking"`
	Series         []Bucket      `json:"series"`
	SeriesTotal    Money         `json:"series_total"`
	RecordCount    int           `json:"record_count"`
	ComputedAt     time.Time     `json:"computed_at"`
}

// Records returns the records of the grouped list in display order.
func (s *Snapshot) Records() []Record {
	if s == nil {
		return nil
	}
	out := make([]Record, 0, s.RecordCount)
	for _, e := range s.Entries {
		if it, ok := e.(Item); ok {
			out = append(out, it.Record)
		}
	}
	return out
}
