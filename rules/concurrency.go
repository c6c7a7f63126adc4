//go:build ruleguard

// Package gorules contains ruleguard checks run by golangci-lint. They target
// the mistakes that are easy to make in the lock-free and realtime code.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the Add/Done goroutine pattern; every goroutine owned by
// a WaitGroup is started with wg.Go.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of Add(1) with go func and defer Done").
		Suggest("$wg.Go(func() { $body })")

	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("start goroutines tracked by $wg with $wg.Go")
}

// TypedAtomics flags the function-style sync/atomic API. Shared counters and
// flags use atomic.Int64, atomic.Bool and friends so that no plain access can
// slip in next to an atomic one.
func TypedAtomics(m dsl.Matcher) {
	m.Match(
		`atomic.AddInt64(&$x, $_)`,
		`atomic.AddInt32(&$x, $_)`,
		`atomic.AddUint64(&$x, $_)`,
		`atomic.AddUint32(&$x, $_)`,
		`atomic.LoadInt64(&$x)`,
		`atomic.LoadInt32(&$x)`,
		`atomic.LoadUint64(&$x)`,
		`atomic.LoadUint32(&$x)`,
		`atomic.StoreInt64(&$x, $_)`,
		`atomic.StoreInt32(&$x, $_)`,
		`atomic.StoreUint64(&$x, $_)`,
		`atomic.StoreUint32(&$x, $_)`,
		`atomic.CompareAndSwapInt64(&$x, $_, $_)`,
		`atomic.CompareAndSwapInt32(&$x, $_, $_)`,
		`atomic.CompareAndSwapPointer(&$x, $_, $_)`,
	).
		Report("declare $x with a typed atomic (atomic.Int64, atomic.Pointer[T], ...) instead of using function-style sync/atomic")
}

// HandleUseAfterRelease flags reading a pooled value through a handle that
// the same block already released. After Release the slot may be reused by
// another allocation.
func HandleUseAfterRelease(m dsl.Matcher) {
	m.Match(
		`$h.Release(); $*_; $_ := $h.Value()`,
		`$h.Release(); $*_; $_ = $h.Value()`,
		`$h.Release(); $*_; $h.Value().$_`,
	).
		Where(m["h"].Type.Matches(`lockfree\.Handle\[.*\]$`)).
		Report("$h is read after $h.Release(); take the value before releasing the handle")
}

// TimerChannelLen flags len and cap on timer channels, which are unbuffered
// since Go 1.23. The update loop relies on select for non-blocking checks.
func TimerChannelLen(m dsl.Matcher) {
	m.Match(`len($t.C)`, `cap($t.C)`).
		Where(m["t"].Type.Is("*time.Timer") || m["t"].Type.Is("*time.Ticker")).
		Report("timer channels are unbuffered since Go 1.23; use a non-blocking select on $t.C")
}

// SleepInCallback flags time.Sleep inside functions named like device
// callbacks. The callback runs on the audio thread and must never block.
func SleepInCallback(m dsl.Matcher) {
	m.Match(`time.Sleep($_)`).
		Where(m.File().PkgPath.Matches(`/internal/device$`) && m.File().Name.Matches(`malgo\.go$`)).
		Report("do not sleep in the device package's callback path; the audio thread must never block")
}
