// Package estimate predicts a location's discharge rate from its reading
// series. Top-up events are removed first: dorm meters are recharged in
// fixed denominations, so a positive jump between consecutive readings is
// snapped to the nearest denomination and subtracted from everything that
// follows, leaving a monotonic consumption-only series to regress over.
package estimate

import "github.com/dormitricity/orchestrator/pkg/types"

// Result is a fitted discharge estimate. KW is the consumption slope in
// kilowatts (negative while discharging); R2 is the regression's
// coefficient of determination, for callers that want to threshold on
// fit quality.
type Result struct {
	KW float64
	R2 float64
}

// chargeValue quantizes a positive jump between consecutive readings to
// the recharge denomination ladder. Jumps above 225 are taken at face
// value; anything below 12.5 is treated as noise.
func chargeValue(diff float64) float64 {
	switch {
	case diff > 225:
		return diff
	case diff > 175:
		return 200
	case diff > 125:
		return 150
	case diff > 87.5:
		return 100
	case diff > 62.5:
		return 75
	case diff > 37.5:
		return 50
	case diff > 12.5:
		return 25
	default:
		return 0
	}
}

// RemoveCharges subtracts inferred top-up events from the series, walking
// it in order and accumulating the total charge seen so far.
func RemoveCharges(points []types.SeriesPoint) []types.SeriesPoint {
	if len(points) == 0 {
		return nil
	}

	current := points[0].KWH
	totalCharge := 0.0
	out := make([]types.SeriesPoint, 0, len(points))
	out = append(out, points[0])

	for _, p := range points[1:] {
		diff := p.KWH - current
		current = p.KWH
		totalCharge += chargeValue(diff)
		out = append(out, types.SeriesPoint{TS: p.TS, KWH: p.KWH - totalCharge})
	}
	return out
}

// Estimate fits kwh = a + b*ts by ordinary least squares over the
// uncharged series and converts the slope to kW. Returns nil when fewer
// than two points remain or every point shares the same timestamp.
func Estimate(points []types.SeriesPoint) *Result {
	uncharged := RemoveCharges(points)
	if len(uncharged) < 2 {
		return nil
	}

	n := float64(len(uncharged))
	var sumX, sumY, sumXY, sumX2 float64
	for _, p := range uncharged {
		x := float64(p.TS)
		sumX += x
		sumY += p.KWH
		sumXY += x * p.KWH
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return nil
	}

	slope := (n*sumXY - sumX*sumY) / denominator // kWh per second
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for _, p := range uncharged {
		pred := intercept + slope*float64(p.TS)
		ssRes += (p.KWH - pred) * (p.KWH - pred)
		ssTot += (p.KWH - meanY) * (p.KWH - meanY)
	}
	r2 := 1.0
	if ssTot != 0 {
		r2 = 1 - ssRes/ssTot
	}

	return &Result{
		KW: slope * 3600,
		R2: r2,
	}
}
