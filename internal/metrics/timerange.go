package metrics

import "time"

// Preset is one of the rolling time-range presets.
type Preset string

const (
	Preset5m  Preset = "5m"
	Preset15m Preset = "15m"
	Preset1h  Preset = "1h"
	Preset6h  Preset = "6h"
	Preset24h Preset = "24h"

	DefaultPreset = Preset1h
)

// Duration returns the preset's window length. Unknown presets use the
// default.
func (p Preset) Duration() time.Duration {
	switch p {
	case Preset5m:
		return 5 * time.Minute
	case Preset15m:
		return 15 * time.Minute
	case Preset1h:
		return time.Hour
	case Preset6h:
		return 6 * time.Hour
	case Preset24h:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// ParsePreset validates a preset name, falling back to the default.
func ParsePreset(s string) Preset {
	switch Preset(s) {
	case Preset5m, Preset15m, Preset1h, Preset6h, Preset24h:
		return Preset(s)
	default:
		return DefaultPreset
	}
}

// TimeRange selects the visible span of each series. With both Start and
// End set it is a fixed window; otherwise it is a rolling window of the
// preset's duration ending now. Filtering happens at render/extend time,
// never at storage time.
type TimeRange struct {
	Start  time.Time
	End    time.Time
	Preset Preset
}

// Window resolves the concrete [start, end] bounds at the given instant.
func (tr TimeRange) Window(now time.Time) (time.Time, time.Time) {
	if !tr.Start.IsZero() && !tr.End.IsZero() {
		return tr.Start, tr.End
	}
	return now.Add(-tr.Preset.Duration()), now
}
