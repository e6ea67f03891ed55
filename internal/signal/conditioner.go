// Package signal implements the signal-conditioning pipeline of spec.md
// §4.5 (C5): a pure per-sample transform plus the SMA filter state it
// threads through.
package signal

import (
	"math"

	"github.com/jihwankim/irrig-core/internal/iopoint"
)

// Condition runs one raw sample through the fixed six-stage pipeline of
// §4.5, mutating sma in place. It never errors: SignalConfig is validated
// at config-load time (§4.5/§7 propagation policy).
func Condition(raw float64, cfg *iopoint.SignalConfig, sma *iopoint.SMAState) float64 {
	v := raw + cfg.Offset
	v *= cfg.Gain
	v *= cfg.Scaling

	if len(cfg.Lookup) > 0 {
		v = interpolate(cfg.Lookup, v)
	}

	v = roundHalfAwayFromZero(v, cfg.Precision)

	if cfg.Filter == iopoint.FilterSMA && cfg.SMAWindow > 1 {
		v = applySMA(sma, v, cfg.SMAWindow)
	}

	return v
}

// interpolate performs piecewise-linear interpolation over table, clamping
// to the boundary output outside [x0, xn] and returning the left
// endpoint's y for coincident x's (§4.5 step 4).
func interpolate(table []iopoint.LookupPoint, x float64) float64 {
	n := len(table)
	if x <= table[0].X {
		return table[0].Y
	}
	if x >= table[n-1].X {
		return table[n-1].Y
	}
	for i := 0; i < n-1; i++ {
		x0, x1 := table[i].X, table[i+1].X
		if x >= x0 && x <= x1 {
			if x1 == x0 {
				return table[i].Y
			}
			t := (x - x0) / (x1 - x0)
			return table[i].Y + t*(table[i+1].Y-table[i].Y)
		}
	}
	return table[n-1].Y
}

// roundHalfAwayFromZero rounds v to precision decimal places using
// half-away-from-zero rounding on the scaled integer (§4.5 step 5).
func roundHalfAwayFromZero(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	scaled := v * scale
	if scaled >= 0 {
		scaled = math.Floor(scaled + 0.5)
	} else {
		scaled = math.Ceil(scaled - 0.5)
	}
	return scaled / scale
}

// applySMA maintains a ring buffer of at most min(window,16) samples and
// returns the running mean (§4.5 step 6).
func applySMA(sma *iopoint.SMAState, v float64, window int) float64 {
	if window > 16 {
		window = 16
	}

	if sma.Count < window {
		sma.Buffer[sma.Head] = v
		sma.Head = (sma.Head + 1) % window
		sma.Count++
		sma.Sum += v
	} else {
		old := sma.Buffer[sma.Head]
		sma.Buffer[sma.Head] = v
		sma.Head = (sma.Head + 1) % window
		sma.Sum += v - old
	}

	return sma.Sum / float64(sma.Count)
}
