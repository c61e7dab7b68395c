package wkv

import (
	"math"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// CheckFinite scans data for NaN/Inf, records any findings under the given
// tensor name in the instability metric, and returns the counts. The
// engines themselves never produce non-finite values from clamped inputs;
// this exists for callers that want a tripwire on outputs or states.
func CheckFinite(name string, data []float32) (nanCount, infCount int) {
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) {
			nanCount++
		} else if math.IsInf(f, 0) {
			infCount++
		}
	}
	metrics.RecordNumericalInstability(name, nanCount, infCount)
	return nanCount, infCount
}
