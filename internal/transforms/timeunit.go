package transforms

import (
	"fmt"
	"time"

	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// unitOrder lists time units from coarsest to finest.
var unitOrder = []string{"year", "quarter", "month", "date", "hours", "minutes", "seconds", "milliseconds"}

// defaultYear is used when the units omit the year; it is a leap year so
// that February 29 survives flooring.
const defaultYear = 2012

// floorTime truncates t to the given units, zeroing every component the
// units do not include.
func floorTime(t time.Time, units map[string]bool) time.Time {
	year := defaultYear
	if units["year"] {
		year = t.Year()
	}
	month := time.January
	switch {
	case units["month"]:
		month = t.Month()
	case units["quarter"]:
		month = time.Month((int(t.Month())-1)/3*3 + 1)
	}
	day, hour, minute, sec, ms := 1, 0, 0, 0, 0
	if units["date"] {
		day = t.Day()
	}
	if units["hours"] {
		hour = t.Hour()
	}
	if units["minutes"] {
		minute = t.Minute()
	}
	if units["seconds"] {
		sec = t.Second()
	}
	if units["milliseconds"] {
		ms = t.Nanosecond() / int(time.Millisecond)
	}
	return time.Date(year, month, day, hour, minute, sec, ms*int(time.Millisecond), t.Location())
}

// offsetTime advances t by step of the finest unit in units.
func offsetTime(t time.Time, units map[string]bool, step int) time.Time {
	finest := ""
	for _, u := range unitOrder {
		if units[u] {
			finest = u
		}
	}
	switch finest {
	case "year":
		return t.AddDate(step, 0, 0)
	case "quarter":
		return t.AddDate(0, 3*step, 0)
	case "month":
		return t.AddDate(0, step, 0)
	case "date":
		return t.AddDate(0, 0, step)
	case "hours":
		return t.Add(time.Duration(step) * time.Hour)
	case "minutes":
		return t.Add(time.Duration(step) * time.Minute)
	case "seconds":
		return t.Add(time.Duration(step) * time.Second)
	}
	return t.Add(time.Duration(step) * time.Millisecond)
}

// timeUnit floors a timestamp field to calendar units, writing the start
// and end of each interval as temporal columns.
func (r *run) timeUnit(p params, in *table.Table) (*table.Table, error) {
	field, err := p.field("field")
	if err != nil {
		return nil, err
	}
	list, err := p.strings("units")
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("timeunit requires at least one unit")
	}
	units := make(map[string]bool, len(list))
	for _, u := range list {
		if !spec.SupportedTimeUnits[u] {
			return nil, fmt.Errorf("time unit %q is not supported", u)
		}
		units[u] = true
	}
	tz, err := p.str("timezone", "local")
	if err != nil {
		return nil, err
	}
	loc := r.env.LocalLocation()
	switch tz {
	case "utc":
		loc = time.UTC
	case "local":
	default:
		return nil, fmt.Errorf("unknown timezone %q, expected local or utc", tz)
	}
	step, err := p.number("step", 1)
	if err != nil {
		return nil, err
	}
	as, err := p.strings("as")
	if err != nil {
		return nil, err
	}
	cols := names(as, []string{"unit0", "unit1"})

	out := in.Derive()
	for _, c := range cols {
		out.AddColumn(c)
		out.SetTemporal(c, true)
	}
	for _, row := range in.Rows {
		next := copyRow(row, 2)
		u0, u1 := cty.NullVal(cty.Number), cty.NullVal(cty.Number)
		if ts, ok := r.timestamp(get(row, field)); ok {
			start := floorTime(ts.In(loc), units)
			u0 = cty.NumberIntVal(start.UnixMilli())
			u1 = cty.NumberIntVal(offsetTime(start, units, int(step)).UnixMilli())
		}
		next[cols[0]] = u0
		next[cols[1]] = u1
		out.Rows = append(out.Rows, next)
	}
	return out, nil
}

// timestamp reads an epoch-millisecond number or a date string.
func (r *run) timestamp(v cty.Value) (time.Time, bool) {
	if v.IsNull() {
		return time.Time{}, false
	}
	switch v.Type() {
	case cty.Number:
		return table.TimeOf(table.ToFloat(v), time.UTC), true
	case cty.String:
		return table.ParseDate(v.AsString(), r.env.InputLocation())
	}
	return time.Time{}, false
}
