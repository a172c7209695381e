package query

import "time"

// TimeWindow bounds a query to [Start, End], inclusive. A nil bound is open.
type TimeWindow struct {
	Start *time.Time
	End   *time.Time
}

// Unrestricted reports whether the window constrains nothing.
func (w *TimeWindow) Unrestricted() bool {
	return w == nil || (w.Start == nil && w.End == nil)
}

// Contains reports whether ts falls inside the window.
func (w *TimeWindow) Contains(ts time.Time) bool {
	if w.Unrestricted() {
		return true
	}
	if w.Start != nil && ts.Before(*w.Start) {
		return false
	}
	if w.End != nil && ts.After(*w.End) {
		return false
	}
	return true
}

// EffectiveWindow resolves precedence: an explicit window unconditionally
// overrides an extracted one; both absent means unrestricted (nil).
func EffectiveWindow(explicit, extracted *TimeWindow) *TimeWindow {
	if !explicit.Unrestricted() {
		return explicit
	}
	if !extracted.Unrestricted() {
		return extracted
	}
	return nil
}
