// Package aggregate derives the display list, totals, ranking and chart
// series from a window's records. Every function is pure: the same records
// and window always yield the same output, and inputs are never modified.
//
// Records are expected newest first, the order ledger stores return.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"registro/internal/core"
)

var hundred = decimal.NewFromInt(100)

// percentPlaces is the precision of the share before it is scaled to a
// percentage: 0.3333 becomes 33.33.
const percentPlaces = 4

// Group interleaves date headers with records. A header is emitted for the
// first record and whenever the display date differs from the previous
// record's.
func Group(records []core.Record) []core.Entry {
	entries := make([]core.Entry, 0, len(records)+len(records)/2)
	prev := ""
	for i, r := range records {
		if i == 0 || r.DisplayDate != prev {
			entries = append(entries, core.Header{Date: r.DisplayDate})
			prev = r.DisplayDate
		}
		entries = append(entries, core.Item{Record: r.Clone()})
	}
	return entries
}

// Totals sums expense and income amounts separately. Malformed amounts
// count as zero.
func Totals(records []core.Record) (expense, income core.Money) {
	for _, r := range records {
		switch r.Kind {
		case core.Expense:
			expense = expense.Add(r.Money())
		case core.Income:
			income = income.Add(r.Money())
		}
	}
	return expense, income
}

// Average divides total by the days of a month window, or by 12 for a year
// window, rounding half up to cents.
func Average(total core.Money, w core.Window) core.Money {
	return total.DivRound(int64(w.Periods()), 2)
}

// Rank groups expense records by category name. Each item's Percent is its
// share of the expense total rounded half up to four places, times 100.
// Items are ordered by amount, largest first; equal amounts keep the order
// in which their category was first seen.
func Rank(records []core.Record) []core.RankingItem {
	var (
		items = make([]core.RankingItem, 0)
		index = make(map[string]int)
		total core.Money
	)
	for _, r := range records {
		if r.Kind != core.Expense {
			continue
		}
		amount := r.Money()
		total = total.Add(amount)
		i, ok := index[r.CategoryName]
		if !ok {
			i = len(items)
			index[r.CategoryName] = i
			items = append(items, core.RankingItem{Icon: r.CategoryIcon, Name: r.CategoryName})
		}
		items[i].Amount = items[i].Amount.Add(amount)
	}

	for i := range items {
		items[i].Percent = Percent(items[i].Amount, total)
	}
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Amount.Cmp(items[b].Amount) > 0
	})
	return items
}

// Percent is part/total as a percentage, or zero when total is zero.
func Percent(part, total core.Money) core.Money {
	if total.IsZero() {
		return core.Zero
	}
	share := part.Decimal().DivRound(total.Decimal(), percentPlaces)
	return core.MoneyFromDecimal(share.Mul(hundred))
}

var monthLabels = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// Series buckets the records of kind for charting. A month window gets one
// bucket per distinct display date in chronological order, labelled with
// the date without its weekday ("May 5"). A year window always gets twelve
// buckets, Jan through Dec, by the timestamp's month in loc.
func Series(records []core.Record, w core.Window, kind core.Kind, loc *time.Location) []core.Bucket {
	if loc == nil {
		loc = time.UTC
	}
	if w.Mode == core.YearMode {
		buckets := make([]core.Bucket, 12)
		for i := range buckets {
			buckets[i].Label = monthLabels[i]
		}
		for _, r := range records {
			if r.Kind != kind {
				continue
			}
			m := r.Timestamp.In(loc).Month() - 1
			buckets[m].Amount = buckets[m].Amount.Add(r.Money())
		}
		return buckets
	}

	type day struct {
		label    string
		earliest time.Time
		amount   core.Money
	}
	var (
		days  []*day
		index = make(map[string]*day)
	)
	for _, r := range records {
		if r.Kind != kind {
			continue
		}
		d, ok := index[r.DisplayDate]
		if !ok {
			d = &day{label: bucketLabel(r.DisplayDate), earliest: r.Timestamp}
			index[r.DisplayDate] = d
			days = append(days, d)
		}
		if r.Timestamp.Before(d.earliest) {
			d.earliest = r.Timestamp
		}
		d.amount = d.amount.Add(r.Money())
	}
	sort.SliceStable(days, func(a, b int) bool {
		return days[a].earliest.Before(days[b].earliest)
	})

	buckets := make([]core.Bucket, len(days))
	for i, d := range days {
		buckets[i] = core.Bucket{Label: d.label, Amount: d.amount}
	}
	return buckets
}

func bucketLabel(displayDate string) string {
	label, _, _ := strings.Cut(displayDate, ",")
	return strings.TrimSpace(label)
}

// SumBuckets adds every bucket amount.
func SumBuckets(buckets []core.Bucket) core.Money {
	total := core.Zero
	for _, b := range buckets {
		total = total.Add(b.Amount)
	}
	return total
}

// Build computes every output for one window and active kind.
func Build(records []core.Record, w core.Window, kind core.Kind, loc *time.Location) *core.Snapshot {
	expense, income := Totals(records)
	series := Series(records, w, kind, loc)
	return &core.Snapshot{
		Window:         w,
		Kind:           kind,
		Entries:        Group(records),
		TotalExpense:   expense,
		TotalIncome:    income,
		Balance:        income.Sub(expense),
		AverageExpense: Average(expense, w),
		AverageIncome:  Average(income, w),
		Ranking:        Rank(records),
		Series:         series,
		SeriesTotal:    SumBuckets(series),
		RecordCount:    len(records),
	}
}
