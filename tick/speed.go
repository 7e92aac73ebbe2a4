package tick

// SpeedSetting selects the simulation speed. The setting maps to a
// non-negative multiplier applied to elapsed real time before it is
// accumulated into ticks.
type SpeedSetting int

// The available speed settings.
const (
	SpeedPaused SpeedSetting = iota
	SpeedNormal
	SpeedFast
	SpeedTurbo
)

// Multiplier returns the factor applied to elapsed time at this setting.
// Unknown settings fall back to normal speed.
func (s SpeedSetting) Multiplier() float64 {
	switch s {
	case SpeedPaused:
		return 0
	case SpeedNormal:
		return 1
	case SpeedFast:
		return 2
	case SpeedTurbo:
		return 4
	default:
		return 1
	}
}

func (s SpeedSetting) String() string {
	switch s {
	case SpeedPaused:
		return "paused"
	case SpeedNormal:
		return "normal"
	case SpeedFast:
		return "fast"
	case SpeedTurbo:
		return "turbo"
	default:
		return "unknown"
	}
}

// ParseSpeed converts a setting name to a SpeedSetting. Unknown names map
// to SpeedNormal, matching the clamping policy for configuration values.
func ParseSpeed(name string) SpeedSetting {
	switch name {
	case "paused":
		return SpeedPaused
	case "normal":
		return SpeedNormal
	case "fast":
		return SpeedFast
	case "turbo":
		return SpeedTurbo
	default:
		return SpeedNormal
	}
}
