//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// ErrorfWithoutWrap flags fmt.Errorf calls that take an error argument but
// format it with %v or %s, which breaks errors.Is and errors.As.
func ErrorfWithoutWrap(m dsl.Matcher) {
	m.Match(
		`fmt.Errorf($format, $err)`,
		`fmt.Errorf($format, $_, $err)`,
		`fmt.Errorf($format, $_, $_, $err)`,
	).
		Where(m["err"].Type.Implements("error") && !m["format"].Text.Matches(`%w`)).
		Report("wrap $err with %w so callers can match it with errors.Is")
}

// SentinelComparison flags == and != against exported sentinel errors.
// Sentinels are returned wrapped in enhanced errors, so only errors.Is finds them.
func SentinelComparison(m dsl.Matcher) {
	m.Match(`$err == $sentinel`).
		Where(m["err"].Type.Implements("error") && m["sentinel"].Text.Matches(`(^|\.)Err[A-Z]\w*$`)).
		Report("use errors.Is($err, $sentinel) instead of ==").
		Suggest("errors.Is($err, $sentinel)")

	m.Match(`$err != $sentinel`).
		Where(m["err"].Type.Implements("error") && m["sentinel"].Text.Matches(`(^|\.)Err[A-Z]\w*$`)).
		Report("use !errors.Is($err, $sentinel) instead of !=").
		Suggest("!errors.Is($err, $sentinel)")
}

// EnhancedErrorWithoutCategory flags enhanced errors built without a
// category. Telemetry groups and filters events by category.
func EnhancedErrorWithoutCategory(m dsl.Matcher) {
	m.Match(
		`errors.New($_).Build()`,
		`errors.Newf($*_).Build()`,
		`errors.New($_).Component($_).Build()`,
		`errors.Newf($*_).Component($_).Build()`,
	).
		Where(m.File().Imports("github.com/tphakala/audiostream/internal/errors")).
		Report("set a Category on enhanced errors before Build")
}
