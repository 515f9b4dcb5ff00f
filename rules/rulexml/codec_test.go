package rulexml

import (
	"errors"
	"iter"
	"slices"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRule(t *testing.T) func(r rules.Rule, err error) rules.Rule {
	return func(r rules.Rule, err error) rules.Rule {
		t.Helper()
		require.NoError(t, err)
		return r
	}
}

func sampleSet(t *testing.T) rules.RuleSet {
	must := mustRule(t)
	local := rules.Meta{Standard: rules.StandardLocal}
	utc := rules.Meta{Standard: rules.StandardUTC, GUIConfig: `{"preset":"weekly"}`}
	all := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	return rules.RuleSet{
		must(rules.NewOccurOnce(rules.OnceParams{Start: 1000, End: mo.Some[int64](2000), Alarm: mo.None[int64]()}, local)),
		must(rules.NewOccurRegularly(rules.RegularlyParams{RefStart: 1000, Interval: 3600, End: mo.Some[int64](1800), Alarm: mo.Some[int64](-60)}, utc)),
		must(rules.NewOccurRegularlyGroup(rules.RegularlyGroupParams{RefStarts: []int64{10, 20}, Interval: 100, End: mo.None[int64](), Alarm: mo.Some[int64](5)}, local)),
		must(rules.NewOccurMonthlyNumberDirect(rules.MonthlyNumberParams{Months: []int{1, 6}, Day: 15, Hour: 8, Minute: 30, End: mo.None[int64](), Alarm: mo.None[int64]()}, local)),
		must(rules.NewOccurMonthlyNumberInverse(rules.MonthlyNumberParams{Months: all, Day: 1, End: mo.None[int64](), Alarm: mo.None[int64]()}, local)),
		must(rules.NewOccurMonthlyWeekdayDirect(rules.MonthlyWeekdayParams{Months: all, Weekday: 1, Number: 2, Hour: 19, End: mo.Some[int64](3600), Alarm: mo.Some[int64](900)}, local)),
		must(rules.NewOccurMonthlyWeekdayInverse(rules.MonthlyWeekdayParams{Months: []int{3, 10}, Weekday: 6, Number: 1, Hour: 1, End: mo.None[int64](), Alarm: mo.None[int64]()}, utc)),
		must(rules.NewOccurYearlySingle(rules.YearlySingleParams{Interval: 4, RefYear: 2024, Month: 2, Day: 29, Hour: 12, End: mo.None[int64](), Alarm: mo.None[int64]()}, local)),
		must(rules.NewOccurYearlyGroup(rules.YearlyGroupParams{Dates: []rules.YearlyDate{{Month: 12, Day: 25, Hour: 9}, {Month: 7, Day: 4}}, End: mo.None[int64](), Alarm: mo.Some[int64](86400)}, local)),
		must(rules.NewExceptOnce(rules.ExceptOnceParams{Start: 4600, End: 4700, Inclusive: true}, local)),
		must(rules.NewExceptRegularly(rules.ExceptRegularlyParams{RefStart: 0, Interval: 604800, End: 86400}, local)),
	}
}

func TestEncodeDecode(t *testing.T) {
	set := sampleSet(t)

	data, err := Encode(set)
	require.NoError(t, err)
	assert.Contains(t, string(data), `kind="occur_monthly_weekday_inverse"`)
	assert.Contains(t, string(data), `standard="UTC"`)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded, len(set))

	for i := range set {
		assert.Equal(t, set[i].Kind(), decoded[i].Kind())
		assert.Equal(t, set[i].Meta(), decoded[i].Meta())
		assert.Equal(t, set[i].OverlapSpan(), decoded[i].OverlapSpan())
	}
	assert.Equal(t, set[3].(rules.OccurMonthlyNumberDirect).Params(), decoded[3].(rules.OccurMonthlyNumberDirect).Params())
	assert.Equal(t, set[8].(rules.OccurYearlyGroup).Params(), decoded[8].(rules.OccurYearlyGroup).Params())
	assert.Equal(t, set[9].(rules.ExceptOnce).Params(), decoded[9].(rules.ExceptOnce).Params())

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func prefix(seq iter.Seq[occurrence.Occurrence], n int) []occurrence.Occurrence {
	var out []occurrence.Occurrence
	for o := range seq {
		out = append(out, o)
		if len(out) == n {
			break
		}
	}
	return out
}

func TestEncodeDecode_SameOccurrences(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	offsets := map[string]rules.OffsetFunc{
		"none":     nil,
		"new york": rules.LocationOffset(ny),
	}
	day := func(year int, month time.Month, d int) int64 {
		return time.Date(year, month, d, 0, 0, 0, 0, time.UTC).Unix()
	}
	mint, maxt := day(2024, 1, 1), day(2025, 12, 31)
	bases := []int64{0, day(2024, 3, 10), day(2024, 11, 3), day(2031, 6, 1)}

	set := sampleSet(t)
	data, err := Encode(set)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded, len(set))

	for i, r := range set {
		for name, offset := range offsets {
			want := slices.Collect(r.Range(mint, maxt, offset))
			got := slices.Collect(decoded[i].Range(mint, maxt, offset))
			assert.Equal(t, want, got, "%s range with offset %s", r.Kind(), name)

			for _, base := range bases {
				wantNext := prefix(r.NextAfter(base, nil, offset), 25)
				gotNext := prefix(decoded[i].NextAfter(base, nil, offset), 25)
				assert.Equal(t, wantNext, gotNext, "%s next after %d with offset %s", r.Kind(), base, name)
			}
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{
			name:    "not xml",
			doc:     "<rules",
			wantErr: ErrMalformed,
		},
		{
			name:    "wrong root",
			doc:     `<rule kind="occur_once"><start>1</start></rule>`,
			wantErr: ErrMalformed,
		},
		{
			name:    "unknown kind",
			doc:     `<rules><rule kind="occur_daily"/></rules>`,
			wantErr: ErrMalformed,
		},
		{
			name:    "missing field",
			doc:     `<rules><rule kind="occur_regularly"><refstart>1</refstart></rule></rules>`,
			wantErr: ErrMalformed,
		},
		{
			name:    "not a number",
			doc:     `<rules><rule kind="occur_once"><start>soon</start></rule></rules>`,
			wantErr: ErrMalformed,
		},
		{
			name: "invalid parameters",
			doc: `<rules><rule kind="occur_monthly_number_direct">
				<month>2</month><day>30</day><hour>0</hour><minute>0</minute>
			</rule></rules>`,
			wantErr: rules.ErrBadRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Decode([]byte(tt.doc))
			assert.Nil(t, set)
			require.Error(t, err)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	set, err := Decode([]byte(`<rules xmlns="urn:libremind:rules"></rules>`))
	require.NoError(t, err)
	assert.Empty(t, set)
}
