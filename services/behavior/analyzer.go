package behavior

import (
	"math"
	"time"

	"presencegate/internal/geo"
	"presencegate/services/presence"
)

// Soft flags and fatal reasons raised by claim-history analysis.
const (
	FlagRegularTiming   = "REGULAR_TIMING_PATTERN"
	FlagActionBurst     = "ACTION_BURST"
	FlagHighTravelSpeed = "HIGH_TRAVEL_SPEED"
	FlagRapidRelocation = "RAPID_RELOCATION"
	FlagSameCoordinates = "SAME_COORDINATES"

	ReasonImpossibleJourney = "IMPOSSIBLE_JOURNEY"
	ReasonExcessiveJumps    = "EXCESSIVE_JUMPS"
)

const (
	penaltyRegularTiming   = 50
	penaltyActionBurst     = 40
	penaltyHighTravelSpeed = 10
	penaltyRapidRelocation = 20
	penaltySameCoordinates = 15

	highTravelFraction = 0.7
	coordRoundDecimals = 4
)

type Config struct {
	HistorySize      int
	MinIntervals     int
	RegularityCV     float64
	BurstMax         int64
	MaxTravelKmh     float64
	JumpDistance     float64
	JumpWindow       time.Duration
	MaxJumpsPerDay   int
	SameCoordSamples int
}

// ClaimEvent is one historical claim, reduced to what timing and travel
// analysis needs. Coordinates are those of the claimed target.
type ClaimEvent struct {
	At        time.Time
	TagID     string
	Latitude  float64
	Longitude float64
	Accepted  bool
}

// Input bundles everything Analyze inspects for one claim. History is
// chronological (oldest first) and spans all outcomes; Previous is the most
// recent accepted claim, nil for first-time users.
type Input struct {
	History    []ClaimEvent
	Previous   *ClaimEvent
	Current    ClaimEvent
	Samples    []presence.Sample
	BurstCount int64
	Flow       string
}

// Analyze inspects the user's recent claim history for bot-like timing,
// bursts and physically impossible travel between claims.
func Analyze(in Input, cfg Config) presence.Verdict {
	confidence := 100
	var flags []string

	penalize := func(flag string, weight int) {
		flags = append(flags, flag)
		confidence -= weight
	}

	if regularTiming(in.History, cfg) {
		penalize(FlagRegularTiming, penaltyRegularTiming)
	}

	if in.BurstCount > cfg.BurstMax {
		penalize(FlagActionBurst, penaltyActionBurst)
	}

	if sameCoordinates(in.Samples, cfg.SameCoordSamples) {
		penalize(FlagSameCoordinates, penaltySameCoordinates)
	}

	if in.Previous != nil {
		dist := geo.Distance(in.Previous.Latitude, in.Previous.Longitude, in.Current.Latitude, in.Current.Longitude)
		elapsed := in.Current.At.Sub(in.Previous.At)

		if elapsed > 0 {
			kmh := dist / 1000 / elapsed.Hours()
			if kmh > cfg.MaxTravelKmh {
				return presence.Verdict{Fatal: true, Reason: ReasonImpossibleJourney, Flags: flags}
			}
			if kmh >= highTravelFraction*cfg.MaxTravelKmh {
				penalize(FlagHighTravelSpeed, penaltyHighTravelSpeed)
			}
		}

		// Conservative short-range jump rule, rich flow only.
		if in.Flow != "scan" {
			jumps := jumpsToday(in.History, in.Current.At, cfg)
			if isJump(*in.Previous, in.Current, cfg) {
				jumps++
				penalize(FlagRapidRelocation, penaltyRapidRelocation)
			}
			if cfg.MaxJumpsPerDay > 0 && jumps >= cfg.MaxJumpsPerDay {
				return presence.Verdict{Fatal: true, Reason: ReasonExcessiveJumps, Flags: flags}
			}
		}
	}

	if confidence < 0 {
		confidence = 0
	}

	return presence.Verdict{
		Valid:      confidence >= presence.AcceptThreshold,
		Confidence: confidence,
		Flags:      flags,
	}
}

// regularTiming reports whether inter-claim intervals are suspiciously even.
// Humans do not check in on a metronome; a coefficient of variation under the
// configured bound over enough intervals is treated as scripted behavior.
func regularTiming(history []ClaimEvent, cfg Config) bool {
	if len(history) < cfg.MinIntervals+1 {
		return false
	}

	intervals := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		intervals = append(intervals, history[i].At.Sub(history[i-1].At).Seconds())
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return false
	}

	var variance float64
	for _, iv := range intervals {
		variance += (iv - mean) * (iv - mean)
	}
	stddev := math.Sqrt(variance / float64(len(intervals)))

	return stddev/mean < cfg.RegularityCV
}

func isJump(prev, cur ClaimEvent, cfg Config) bool {
	if cfg.JumpDistance <= 0 || cfg.JumpWindow <= 0 {
		return false
	}
	elapsed := cur.At.Sub(prev.At)
	if elapsed <= 0 || elapsed >= cfg.JumpWindow {
		return false
	}
	return geo.Distance(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude) > cfg.JumpDistance
}

// jumpsToday counts short-range impossible jumps between consecutive accepted
// claims on the current calendar day.
func jumpsToday(history []ClaimEvent, now time.Time, cfg Config) int {
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	var prev *ClaimEvent
	jumps := 0
	for i := range history {
		ev := history[i]
		if !ev.Accepted {
			continue
		}
		if prev != nil && !ev.At.Before(dayStart) && isJump(*prev, ev, cfg) {
			jumps++
		}
		prev = &history[i]
	}
	return jumps
}

// sameCoordinates reports whether the latest n samples all round to the same
// coordinate. Real receivers jitter; identical readings suggest replayed or
// fabricated fixes.
func sameCoordinates(samples []presence.Sample, n int) bool {
	if n <= 0 || len(samples) < n {
		return false
	}

	tail := samples[len(samples)-n:]
	lat0, lon0 := roundCoord(tail[0].Latitude), roundCoord(tail[0].Longitude)
	for _, s := range tail[1:] {
		if roundCoord(s.Latitude) != lat0 || roundCoord(s.Longitude) != lon0 {
			return false
		}
	}
	return true
}

func roundCoord(v float64) float64 {
	scale := math.Pow(10, coordRoundDecimals)
	return math.Round(v*scale) / scale
}
