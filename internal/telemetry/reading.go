// Package telemetry interprets the readings the sensor sends for each
// reaction trial, keeps a bounded history of them and exports it as CSV.
package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// MaxTimingMs is the timing error at which feedback turns fully red.
const MaxTimingMs = 300

// Reading is one trial result as sent by the sensor.
//
//	p  position error in millimetres
//	b  button time relative to the target, in seconds (negative is early)
//	s  window start, e window end (seconds)
//	t  device clock in milliseconds
type Reading struct {
	P float64 `json:"p"`
	B float64 `json:"b"`
	S float64 `json:"s"`
	E float64 `json:"e"`
	T float64 `json:"t"`
}

// Parse decodes one JSON reading. A missing t is read as 0.
func Parse(text string) (Reading, error) {
	var r Reading
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return Reading{}, fmt.Errorf("telemetry: parse reading: %w", err)
	}
	return r, nil
}

// IsReference reports whether r only carries a clock reference: every
// measured field is zero.
func (r Reading) IsReference() bool {
	return r.S == 0 && r.P == 0 && r.B == 0 && r.E == 0
}

// ErrorFraction is the button offset as a fraction of the window, clamped
// to [-1, 1]. A zero-length window yields ±1 (or 0 with no offset).
func (r Reading) ErrorFraction() float64 {
	w := r.E - r.S
	if w == 0 {
		switch {
		case r.B > 0:
			return 1
		case r.B < 0:
			return -1
		default:
			return 0
		}
	}
	return math.Min(math.Max(r.B/w, -1), 1)
}

// TimingMs is the absolute timing error in milliseconds.
func (r Reading) TimingMs() float64 {
	return math.Abs(r.B * 1000)
}

// Early reports whether the button was pressed before the target.
func (r Reading) Early() bool {
	return r.B < 0
}

// TimingFeedback renders the timing error, e.g. "120ms Late".
func (r Reading) TimingFeedback() string {
	dir := "Late"
	if r.Early() {
		dir = "Early"
	}
	return fixed(r.TimingMs(), 0) + "ms " + dir
}

// PositionCm is the absolute position error in centimetres.
func (r Reading) PositionCm() float64 {
	return math.Abs(r.P) / 10
}

// PositionFeedback is "Perfect!" under one centimetre, else the signed
// error, e.g. "-1.5cm off".
func (r Reading) PositionFeedback() string {
	if r.PositionCm() < 1 {
		return "Perfect!"
	}
	return fixed(r.P/10, 1) + "cm off"
}

// Score is 100 minus the position error in centimetres, floored at 0.
func (r Reading) Score() float64 {
	return math.Max(100-r.PositionCm(), 0)
}

// NormalizedTiming maps the timing error onto [0, 1] against MaxTimingMs.
func (r Reading) NormalizedTiming() float64 {
	return math.Min(r.TimingMs()/MaxTimingMs, 1)
}

// RGB is a display colour.
type RGB struct {
	R, G, B uint8
}

// Hex returns the colour as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ErrorColor ramps green (0) through yellow (0.5) to red (1).
func ErrorColor(normalized float64) RGB {
	n := math.Min(math.Max(normalized, 0), 1)
	if n <= 0.5 {
		return RGB{R: uint8(math.Round(255 * n * 2)), G: 200, B: 50}
	}
	return RGB{R: 255, G: uint8(math.Round(200 * (1 - (n-0.5)*2))), B: 50}
}

// TimingColor is the feedback colour for r.
func (r Reading) TimingColor() RGB {
	return ErrorColor(r.NormalizedTiming())
}

// fixed formats v with prec decimals, rounding half away from zero and
// never printing a negative zero.
func fixed(v float64, prec int) string {
	p := math.Pow(10, float64(prec))
	v = math.Round(v*p) / p
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// plain formats v in its shortest form ("0.12", "5").
func plain(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
