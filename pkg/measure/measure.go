// Package measure defines the entities the map renders: quantitative
// sensor measurements and citizen nuisance reports, together with the
// pollutant, quality-level, and time-step vocabularies shared by every
// other package.
package measure

import (
	"strings"
	"time"
)

// Pollutant codes as used in provider queries and stored entities.
const (
	PollutantPM25 = "pm2.5"
	PollutantPM10 = "pm10"
	PollutantNO2  = "no2"
	PollutantO3   = "o3"
	PollutantSO2  = "so2"
)

// QualityLevel buckets a pollutant value against fixed thresholds.
// LevelDefault means the entity has no usable recent value and is the
// signal downstream priority logic keys on.
type QualityLevel string

const (
	LevelGood     QualityLevel = "bon"
	LevelMedium   QualityLevel = "moyen"
	LevelDegraded QualityLevel = "degrade"
	LevelBad      QualityLevel = "mauvais"
	LevelVeryBad  QualityLevel = "tresMauvais"
	LevelExtreme  QualityLevel = "extrMauvais"
	LevelDefault  QualityLevel = "default"
)

// qualityThresholds holds the upper bound of each bucket per pollutant,
// ordered good → very bad. Values above the last bound are extreme.
// Units are µg/m³ as published by the regional monitoring network.
var qualityThresholds = map[string][5]float64{
	PollutantPM25: {10, 20, 25, 50, 75},
	PollutantPM10: {20, 40, 50, 100, 150},
	PollutantNO2:  {40, 90, 120, 230, 340},
	PollutantO3:   {50, 100, 130, 240, 380},
	PollutantSO2:  {100, 200, 350, 500, 750},
}

// LevelFor buckets value for the given pollutant. Unknown pollutants and
// negative values yield LevelDefault so malformed data never invents a
// quality bucket.
func LevelFor(pollutant string, value float64) QualityLevel {
	bounds, ok := qualityThresholds[strings.ToLower(strings.TrimSpace(pollutant))]
	if !ok || value < 0 {
		return LevelDefault
	}
	levels := [5]QualityLevel{LevelGood, LevelMedium, LevelDegraded, LevelBad, LevelVeryBad}
	for i, bound := range bounds {
		if value <= bound {
			return levels[i]
		}
	}
	return LevelExtreme
}

// TimeStep is the temporal resolution of requested data. It drives both
// provider query parameters and the auto-refresh cadence.
type TimeStep string

const (
	StepScan        TimeStep = "scan"
	StepTwoMinutes  TimeStep = "2min"
	StepQuarterHour TimeStep = "15min"
	StepHour        TimeStep = "hour"
	StepDay         TimeStep = "day"
)

// ParseTimeStep maps a user-supplied string onto a known TimeStep,
// defaulting to hourly which every provider supports.
func ParseTimeStep(raw string) TimeStep {
	switch TimeStep(strings.ToLower(strings.TrimSpace(raw))) {
	case StepScan:
		return StepScan
	case StepTwoMinutes:
		return StepTwoMinutes
	case StepQuarterHour:
		return StepQuarterHour
	case StepDay:
		return StepDay
	default:
		return StepHour
	}
}

// RefreshInterval returns the auto-refresh period for the step. Finer
// resolutions refresh more often; sub-minute data is still capped at one
// fetch per minute to stay polite to upstream services.
func (s TimeStep) RefreshInterval() time.Duration {
	switch s {
	case StepScan, StepTwoMinutes:
		return time.Minute
	case StepQuarterHour:
		return 15 * time.Minute
	case StepDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Status of a sensor as advertised by its provider.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Measurement is a reading from a physical or virtual sensor. Source is
// always the canonical leaf provider code; group prefixes are stripped at
// the sources boundary and never stored.
type Measurement struct {
	ID         string       `json:"id"`
	Source     string       `json:"source"`
	Lat        float64      `json:"lat"`
	Lon        float64      `json:"lon"`
	Pollutant  string       `json:"pollutant"`
	Value      float64      `json:"value"`
	HasValue   bool         `json:"hasValue"`
	Unit       string       `json:"unit"`
	Quality    QualityLevel `json:"quality"`
	Status     string       `json:"status"`
	MeasuredAt int64        `json:"measuredAt"`
}

// SignalType classifies a nuisance report.
type SignalType string

const (
	SignalOdor    SignalType = "odor"
	SignalNoise   SignalType = "noise"
	SignalBurning SignalType = "burning"
	SignalVisual  SignalType = "visual"
)

// CommunityReport is a citizen-submitted nuisance signal. It carries no
// quantitative value, only a signal type and free text.
type CommunityReport struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Signal    SignalType `json:"signal"`
	Lat       float64    `json:"lat"`
	Lon       float64    `json:"lon"`
	Comment   string     `json:"comment,omitempty"`
	CreatedAt int64      `json:"createdAt"`
}
