// Package threat classifies signature attempt rates into threat levels.
package threat

import (
	"fmt"

	"veil/internal/clock"
)

// Level is a threat classification.
type Level uint8

const (
	Normal Level = iota
	Elevated
	High
	Critical
)

// Attempts-per-second boundaries. A rate must exceed a boundary to reach its level.
const (
	ElevatedRate = 10_000.0
	HighRate     = 100_000.0
	CriticalRate = 1_000_000.0
)

var levelNames = [...]string{"normal", "elevated", "high", "critical"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(text []byte) error {
	for i, name := range levelNames {
		if name == string(text) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown threat level %q", text)
}

// Classify maps an attempt rate to a level.
func Classify(rate float64) Level {
	switch {
	case rate > CriticalRate:
		return Critical
	case rate > HighRate:
		return High
	case rate > ElevatedRate:
		return Elevated
	default:
		return Normal
	}
}

// Detector keeps the most recent classification and counts suspicious samples.
// It is not safe for concurrent use.
type Detector struct {
	SuspiciousPatternCount uint32 `json:"suspicious_pattern_count"`
	LastDetectionTime      int64  `json:"last_detection_time"`
	ThreatLevel            Level  `json:"threat_level"`

	clock clock.Clock
}

func NewDetector(c clock.Clock) *Detector {
	return &Detector{clock: c}
}

// AnalyzePattern classifies attempts/window. A zero window yields +Inf (Critical) for
// any attempts and NaN (Normal) for none.
func (d *Detector) AnalyzePattern(attempts uint32, window int64) Level {
	rate := float64(attempts) / float64(window)
	d.ThreatLevel = Classify(rate)
	if d.ThreatLevel != Normal {
		d.SuspiciousPatternCount++
		d.LastDetectionTime = d.clock.Now()
	}
	return d.ThreatLevel
}

// ActivateQuantumDefense reports whether the current level is Critical.
func (d *Detector) ActivateQuantumDefense() bool {
	return d.ThreatLevel == Critical
}
