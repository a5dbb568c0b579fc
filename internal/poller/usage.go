// internal/poller/usage.go
package poller

// CrystalUsage estimates crystal wear for one channel prefix ("CH1") as a
// percentage: (fmax - fcur) / (fmax - fmin), clamped to [0, 1], times 100.
// Missing readings or an empty frequency window yield 0.
func CrystalUsage(res Result, prefix string) float64 {
	cur, ok1 := res.Number(prefix + "_Frequency_0p01Hz")
	lo, ok2 := res.Number(prefix + "_MinFreq_Hz")
	hi, ok3 := res.Number(prefix + "_MaxFreq_Hz")
	if !ok1 || !ok2 || !ok3 || hi <= lo {
		return 0
	}

	u := (hi - cur) / (hi - lo)
	u = max(0, min(1, u))
	return u * 100
}
