//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// MinMaxBuiltin flags integer clamping through math.Min and math.Max.
func MinMaxBuiltin(m dsl.Matcher) {
	m.Match(
		`int(math.Min(float64($a), float64($b)))`,
		`int64(math.Min(float64($a), float64($b)))`,
	).
		Report("use min($a, $b) instead of converting through math.Min").
		Suggest("min($a, $b)")

	m.Match(
		`int(math.Max(float64($a), float64($b)))`,
		`int64(math.Max(float64($a), float64($b)))`,
	).
		Report("use max($a, $b) instead of converting through math.Max").
		Suggest("max($a, $b)")
}

// RangeOverInteger flags counting loops that can range over an int.
// Benchmark loops over b.N are left alone.
func RangeOverInteger(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $n; $i++ { $*body }`).
		Where(!m["n"].Text.Matches(`.*\.N$`)).
		Report("use for $i := range $n").
		Suggest("for $i := range $n { $body }")
}

// SlicesClone flags append-based slice copies.
func SlicesClone(m dsl.Matcher) {
	m.Match(
		`append([]$typ(nil), $s...)`,
		`append([]$typ{}, $s...)`,
		`append($s[:0:0], $s...)`,
	).
		Report("use slices.Clone($s)")
}

// DeferredTimeSince flags time.Since evaluated when a defer statement runs
// rather than when the function returns.
func DeferredTimeSince(m dsl.Matcher) {
	m.Match(
		`defer $fn(time.Since($start))`,
		`defer $fn($*_, time.Since($start))`,
		`defer $fn(time.Since($start), $*_)`,
	).
		Report("time.Since($start) is evaluated at defer time; wrap the call in a func literal")
}
