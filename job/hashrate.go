package job

import (
	"sync"
	"time"
)

type DataPoint struct {
	Timestamp time.Time
	Value     float64
}

// MovingWindow sums the difficulty of accepted results over WindowSize.
// Every unit of difficulty stands for 2^32 hashes.
type MovingWindow struct {
	mx         sync.Mutex
	WindowSize time.Duration
	Values     []DataPoint
	sum        float64
	now        func() time.Time
}

const hashesPerDiff1 = 4294967296.0

func NewMovingWindow(windowSize time.Duration) *MovingWindow {
	return &MovingWindow{
		WindowSize: windowSize,
		Values:     make([]DataPoint, 0),
		now:        time.Now,
	}
}

func (w *MovingWindow) expire(now time.Time) {
	n := 0
	for n < len(w.Values) && now.Sub(w.Values[n].Timestamp) > w.WindowSize {
		w.sum -= w.Values[n].Value
		n++
	}
	if n > 0 {
		w.Values = w.Values[n:]
	}
	if len(w.Values) == 0 {
		w.sum = 0
	}
}

func (w *MovingWindow) Update(point DataPoint) {
	w.mx.Lock()
	defer w.mx.Unlock()

	w.expire(w.now())
	w.Values = append(w.Values, point)
	w.sum += point.Value
}

// Add records difficulty diff at the current time.
func (w *MovingWindow) Add(diff float64) {
	w.Update(DataPoint{Timestamp: w.now(), Value: diff})
}

// HashRate returns hashes per second over the window.
func (w *MovingWindow) HashRate() float64 {
	w.mx.Lock()
	defer w.mx.Unlock()

	w.expire(w.now())
	secs := w.WindowSize.Seconds()
	if secs <= 0 {
		return 0
	}
	return w.sum * hashesPerDiff1 / secs
}

func (w *MovingWindow) Len() int {
	w.mx.Lock()
	defer w.mx.Unlock()
	return len(w.Values)
}
