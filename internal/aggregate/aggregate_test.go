package aggregate

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registro/internal/core"
)

func record(id int64, kind core.Kind, amount, category string, ts time.Time) core.Record {
	r := core.Record{
		ID:           id,
		OwnerID:      1,
		Kind:         kind,
		Amount:       amount,
		CategoryName: category,
		CategoryIcon: "icon-" + category,
		Timestamp:    ts,
	}
	r.StampDisplay(time.UTC)
	return r
}

func money(s string) core.Money { return core.ParseMoney(s) }

func TestBuildMayScenario(t *testing.T) {
	may5 := time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)
	may6 := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	records := []core.Record{
		record(1, core.Expense, "100.00", "Food", may5),
		record(2, core.Expense, "50.00", "Food", may5.Add(-time.Hour)),
		record(3, core.Income, "200.00", "Salary", may6),
	}
	for i := range records {
		records[i].DisplayDate = bucketLabel(records[i].DisplayDate)
	}

	snap := Build(records, core.MonthWindow(2024, 5), core.Expense, time.UTC)

	want := []core.Entry{
		core.Header{Date: "May 5"},
		core.Item{Record: records[0]},
		core.Item{Record: records[1]},
		core.Header{Date: "May 6"},
		core.Item{Record: records[2]},
	}
	assert.True(t, core.EntriesEqual(want, snap.Entries), "unexpected grouping: %+v", snap.Entries)
	assert.True(t, snap.TotalExpense.Equal(money("150")))
	assert.True(t, snap.TotalIncome.Equal(money("200")))
	assert.True(t, snap.Balance.Equal(money("50")))

	require.Len(t, snap.Ranking, 1)
	assert.Equal(t, "Food", snap.Ranking[0].Name)
	assert.Equal(t, "icon-Food", snap.Ranking[0].Icon)
	assert.True(t, snap.Ranking[0].Amount.Equal(money("150")))
	assert.True(t, snap.Ranking[0].Percent.Equal(money("100")))

	assert.Equal(t, 3, snap.RecordCount)
	assert.Equal(t, "4.84", snap.AverageExpense.String(), "150 / 31 days")
}

func TestGroupSharesHeadersForConsecutiveDates(t *testing.T) {
	base := time.Date(2024, 5, 5, 23, 0, 0, 0, time.UTC)
	records := []core.Record{
		record(4, core.Expense, "1", "A", base),
		record(3, core.Expense, "1", "A", base.Add(-time.Hour)),
		record(2, core.Expense, "1", "A", base.Add(-24*time.Hour)),
		record(1, core.Expense, "1", "A", base.Add(-25*time.Hour)),
	}
	entries := Group(records)
	require.Len(t, entries, 6)
	assert.Equal(t, core.Header{Date: "May 5, Sun"}, entries[0])
	assert.Equal(t, core.Header{Date: "May 4, Sat"}, entries[3])
	assert.Empty(t, Group(nil))
}

func TestGroupDoesNotAliasInput(t *testing.T) {
	r := record(1, core.Expense, "1", "A", time.Now())
	r.Attachments = []string{"x.jpg"}
	entries := Group([]core.Record{r})
	r.Attachments[0] = "changed.jpg"
	assert.Equal(t, "x.jpg", entries[1].(core.Item).Record.Attachments[0])
}

func TestTotalsTreatMalformedAmountsAsZero(t *testing.T) {
	now := time.Now()
	expense, income := Totals([]core.Record{
		record(1, core.Expense, "10.10", "A", now),
		record(2, core.Expense, "oops", "A", now),
		record(3, core.Income, "0.20", "B", now),
		record(4, core.Income, "", "B", now),
	})
	assert.Equal(t, "10.1", expense.String())
	assert.Equal(t, "0.2", income.String())
}

func TestAverage(t *testing.T) {
	total := money("290")
	assert.Equal(t, "10", Average(total, core.MonthWindow(2024, 2)).String(), "leap february has 29 days")
	assert.Equal(t, "10.36", Average(total, core.MonthWindow(2023, 2)).String())
	assert.Equal(t, "24.17", Average(total, core.YearWindow(2024)).String())
	assert.True(t, Average(core.Zero, core.MonthWindow(2024, 5)).IsZero())
}

func TestRankOrderingAndTies(t *testing.T) {
	now := time.Now()
	items := Rank([]core.Record{
		record(1, core.Expense, "10", "Travel", now),
		record(2, core.Income, "999", "Salary", now),
		record(3, core.Expense, "30", "Rent", now),
		record(4, core.Expense, "10", "Fuel", now),
		record(5, core.Expense, "20", "Travel", now),
	})
	require.Len(t, items, 3)
	assert.Equal(t, []string{"Travel", "Rent", "Fuel"}, []string{items[0].Name, items[1].Name, items[2].Name})
	assert.Equal(t, "42.86", items[0].Percent.String())
	assert.Equal(t, "42.86", items[1].Percent.String())
	assert.Equal(t, "14.29", items[2].Percent.String())

	tied := Rank([]core.Record{
		record(1, core.Expense, "5", "B", now),
		record(2, core.Expense, "5", "A", now),
	})
	assert.Equal(t, "B", tied[0].Name, "ties keep first-encountered order")
}

func TestRankZeroTotal(t *testing.T) {
	items := Rank([]core.Record{
		record(1, core.Expense, "bad", "A", time.Now()),
		record(2, core.Expense, "0", "B", time.Now()),
	})
	require.Len(t, items, 2)
	for _, it := range items {
		assert.True(t, it.Percent.IsZero())
	}
	assert.Empty(t, Rank(nil))
}

func TestSeriesMonthMode(t *testing.T) {
	may5 := time.Date(2024, 5, 5, 9, 0, 0, 0, time.UTC)
	records := []core.Record{
		record(4, core.Expense, "7", "A", may5.AddDate(0, 0, 5)),
		record(3, core.Income, "100", "S", may5.AddDate(0, 0, 2)),
		record(2, core.Expense, "2", "A", may5.Add(time.Hour)),
		record(1, core.Expense, "3", "A", may5),
	}
	buckets := Series(records, core.MonthWindow(2024, 5), core.Expense, time.UTC)
	require.Len(t, buckets, 2)
	assert.Equal(t, "May 5", buckets[0].Label)
	assert.Equal(t, "5", buckets[0].Amount.String())
	assert.Equal(t, "May 10", buckets[1].Label)
	assert.Equal(t, "7", buckets[1].Amount.String())

	income := Series(records, core.MonthWindow(2024, 5), core.Income, time.UTC)
	require.Len(t, income, 1)
	assert.Equal(t, "May 7", income[0].Label)
}

func TestSeriesYearModeIsZeroFilled(t *testing.T) {
	records := []core.Record{
		record(2, core.Expense, "5", "A", time.Date(2024, 3, 31, 23, 30, 0, 0, time.UTC)),
		record(1, core.Expense, "1.5", "A", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
	}
	buckets := Series(records, core.YearWindow(2024), core.Expense, time.UTC)
	require.Len(t, buckets, 12)
	assert.Equal(t, "Jan", buckets[0].Label)
	assert.Equal(t, "Dec", buckets[11].Label)
	assert.Equal(t, "1.5", buckets[0].Amount.String())
	assert.Equal(t, "5", buckets[2].Amount.String())
	assert.True(t, buckets[5].Amount.IsZero())

	// the same instant falls in April one hour east
	east := Series(records, core.YearWindow(2024), core.Expense, time.FixedZone("E", 3600))
	assert.Equal(t, "5", east[3].Amount.String())

	empty := Series(nil, core.YearWindow(2024), core.Income, time.UTC)
	require.Len(t, empty, 12)
	assert.True(t, SumBuckets(empty).IsZero())
}

func TestBuildEmpty(t *testing.T) {
	snap := Build(nil, core.MonthWindow(2024, 5), core.Expense, time.UTC)
	assert.Empty(t, snap.Entries)
	assert.True(t, snap.TotalExpense.IsZero())
	assert.True(t, snap.TotalIncome.IsZero())
	assert.Empty(t, snap.Ranking)
	assert.Empty(t, snap.Series)
	assert.Zero(t, snap.RecordCount)
}

func randomRecords(rng *rand.Rand, n int) []core.Record {
	categories := []string{"Food", "Rent", "Travel", "Fuel", "Office"}
	base := time.Date(2024, 5, 31, 20, 0, 0, 0, time.UTC)
	out := make([]core.Record, n)
	for i := range out {
		kind := core.Expense
		if rng.Intn(3) == 0 {
			kind = core.Income
		}
		amount := fmt.Sprintf("%d.%02d", rng.Intn(10000), rng.Intn(100))
		ts := base.Add(-time.Duration(i*rng.Intn(20)) * time.Hour)
		out[i] = record(int64(n-i), kind, amount, categories[rng.Intn(len(categories))], ts)
	}
	return out
}

func TestPropertyTotalsMatchGroupedLeaves(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		records := randomRecords(rng, rng.Intn(40))
		snap := Build(records, core.MonthWindow(2024, 5), core.Expense, time.UTC)

		leaves := snap.Records()
		expense, income := Totals(leaves)
		require.True(t, expense.Equal(snap.TotalExpense), "iteration %d", iter)
		require.True(t, income.Equal(snap.TotalIncome), "iteration %d", iter)
		require.Len(t, leaves, len(records))
	}
}

func TestPropertyRankingPercentagesSumToHundred(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	// half-up rounding at four places drifts by at most 0.005 per item
	tolerance := money("0.005")
	for iter := 0; iter < 200; iter++ {
		records := randomRecords(rng, 1+rng.Intn(40))
		items := Rank(records)
		if len(items) == 0 {
			continue
		}
		sum := core.Zero
		for _, it := range items {
			sum = sum.Add(it.Percent)
		}
		expense, _ := Totals(records)
		if expense.IsZero() {
			assert.True(t, sum.IsZero())
			continue
		}
		drift := sum.Sub(core.NewMoney(100)).Abs()
		limit := core.Zero
		for range items {
			limit = limit.Add(tolerance)
		}
		require.True(t, drift.Cmp(limit) <= 0, "iteration %d: sum %s drifts beyond %s", iter, sum, limit)
		if len(items) == 1 {
			require.True(t, sum.Equal(core.NewMoney(100)))
		}
	}
}
