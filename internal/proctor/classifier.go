package proctor

import (
	"errors"
	"time"
)

// ErrEmptyFrame is returned when a frame carries no pixel data and no precomputed signal.
var ErrEmptyFrame = errors.New("frame has no pixel data")

// Frame is one presence sample. Either Luma (8-bit luminance per pixel),
// Brightness (precomputed mean luma) or Present (client-side verdict) is set.
type Frame struct {
	Luma       []byte
	Brightness *float64
	Present    *bool
	At         time.Time
}

// PresenceClassifier decides whether a student is visible in a frame.
type PresenceClassifier interface {
	Classify(f Frame) (bool, error)
}

// BrightnessClassifier treats a frame as present when its mean luminance lies
// strictly between Min and Max. A too-dark or blown-out frame counts as absent.
type BrightnessClassifier struct {
	Min float64
	Max float64
}

// DefaultClassifier uses the thresholds of the browser heuristic.
var DefaultClassifier = BrightnessClassifier{Min: 30, Max: 200}

// Classify implements PresenceClassifier.
func (c BrightnessClassifier) Classify(f Frame) (bool, error) {
	if f.Present != nil {
		return *f.Present, nil
	}

	var mean float64
	switch {
	case f.Brightness != nil:
		mean = *f.Brightness
	case len(f.Luma) > 0:
		var sum int
		for _, v := range f.Luma {
			sum += int(v)
		}
		mean = float64(sum) / float64(len(f.Luma))
	default:
		return false, ErrEmptyFrame
	}

	return mean > c.Min && mean < c.Max, nil
}
