package coach

import "math"

const minRoRReference = 1e-6

type windowPoint struct {
	t, v float64
}

// MetricsWindow считает процентное изменение сырого сигнала за окно (RoR)
type MetricsWindow struct {
	windowSec float64
	points    []windowPoint
}

// NewMetricsWindow создаёт окно длиной windowSec секунд
func NewMetricsWindow(windowSec float64) *MetricsWindow {
	if !(windowSec > 0) {
		windowSec = 5
	}
	return &MetricsWindow{windowSec: windowSec}
}

// Add добавляет точку. Время должно расти, иначе точка игнорируется.
func (w *MetricsWindow) Add(t, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if n := len(w.points); n > 0 && t <= w.points[n-1].t {
		return
	}
	w.points = append(w.points, windowPoint{t: t, v: v})

	// первая точка остаётся опорной: последняя не позже начала окна
	cutoff := t - w.windowSec
	drop := 0
	for drop+1 < len(w.points) && w.points[drop+1].t <= cutoff {
		drop++
	}
	if drop > 0 {
		w.points = append(w.points[:0], w.points[drop:]...)
	}
}

// RoRPercent изменение в процентах; nil пока окно не заполнено или опора около нуля
func (w *MetricsWindow) RoRPercent() *float64 {
	if len(w.points) < 2 {
		return nil
	}
	ref := w.points[0]
	last := w.points[len(w.points)-1]
	if last.t-ref.t < w.windowSec || math.Abs(ref.v) < minRoRReference {
		return nil
	}
	ror := (last.v - ref.v) / math.Abs(ref.v) * 100
	return &ror
}

// Reset очищает окно
func (w *MetricsWindow) Reset() {
	w.points = w.points[:0]
}
