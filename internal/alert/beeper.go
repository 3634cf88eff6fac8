package alert

import (
	"time"

	"github.com/gen2brain/beeep"
)

// SystemBeeper plays tones on the host speaker
type SystemBeeper struct{}

func (SystemBeeper) Beep(freq float64, d time.Duration) error {
	return beeep.Beep(freq, int(d/time.Millisecond))
}

// NopBeeper is used when BEEP_ENABLED=false or on headless hosts
type NopBeeper struct{}

func (NopBeeper) Beep(float64, time.Duration) error { return nil }
