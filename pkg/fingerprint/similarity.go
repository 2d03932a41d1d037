package fingerprint

import (
	"fmt"
	"math"
)

// Tunable similarity constants. These are empirically chosen and kept as named
// configuration; change them through config rather than in code.
const (
	DefaultThreshold           = 0.7
	DefaultColorDepthTolerance = 8
	DefaultPartialScreenFactor = 0.8
	DefaultUAOSOnlyFactor      = 0.7
	DefaultUABrowserOnlyFactor = 0.4

	weightSumTolerance = 1e-6
)

// Weights assigns each compared attribute its share of the score. They must sum to 1.
type Weights struct {
	// high
	Platform  float64
	Screen    float64
	UserAgent float64
	// medium
	Timezone float64
	Language float64
	// low
	HardwareConcurrency float64
	CookieEnabled       float64
	Vendor              float64
	MaxTouchPoints      float64
	DoNotTrack          float64
}

// DefaultWeights returns the standard high/medium/low weight table.
func DefaultWeights() Weights {
	return Weights{
		Platform:            0.20,
		Screen:              0.20,
		UserAgent:           0.20,
		Timezone:            0.10,
		Language:            0.10,
		HardwareConcurrency: 0.04,
		CookieEnabled:       0.04,
		Vendor:              0.04,
		MaxTouchPoints:      0.04,
		DoNotTrack:          0.04,
	}
}

func (w Weights) values() []float64 {
	return []float64{
		w.Platform, w.Screen, w.UserAgent,
		w.Timezone, w.Language,
		w.HardwareConcurrency, w.CookieEnabled, w.Vendor, w.MaxTouchPoints, w.DoNotTrack,
	}
}

// Sum adds up all weights.
func (w Weights) Sum() float64 {
	total := 0.0
	for _, v := range w.values() {
		total += v
	}
	return total
}

// Validate checks that no weight is negative and that the weights sum to 1.
func (w Weights) Validate() error {
	for _, v := range w.values() {
		if v < 0 {
			return fmt.Errorf("similarity weights must be non-negative, got %v", v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("similarity weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Scorer computes weighted partial-match scores between fingerprints.
type Scorer struct {
	Weights             Weights
	Threshold           float64
	ColorDepthTolerance int
	PartialScreenFactor float64
	UAOSOnlyFactor      float64
	UABrowserOnlyFactor float64
}

// NewScorer returns a scorer with the default table and threshold.
func NewScorer() *Scorer {
	return &Scorer{
		Weights:             DefaultWeights(),
		Threshold:           DefaultThreshold,
		ColorDepthTolerance: DefaultColorDepthTolerance,
		PartialScreenFactor: DefaultPartialScreenFactor,
		UAOSOnlyFactor:      DefaultUAOSOnlyFactor,
		UABrowserOnlyFactor: DefaultUABrowserOnlyFactor,
	}
}

// Validate checks the scorer configuration.
func (s *Scorer) Validate() error {
	if err := s.Weights.Validate(); err != nil {
		return err
	}
	if s.Threshold <= 0 || s.Threshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0, 1], got %v", s.Threshold)
	}
	if s.ColorDepthTolerance < 0 {
		return fmt.Errorf("color depth tolerance must be non-negative, got %d", s.ColorDepthTolerance)
	}
	for _, f := range []float64{s.PartialScreenFactor, s.UAOSOnlyFactor, s.UABrowserOnlyFactor} {
		if f < 0 || f > 1 {
			return fmt.Errorf("partial match factors must be in [0, 1], got %v", f)
		}
	}
	return nil
}

// Score returns a symmetric similarity in [0, 1].
// Fingerprints that fail the anchor check score 0 regardless of other attributes.
func (s *Scorer) Score(a, b Fingerprint) float64 {
	if !anchored(a, b) {
		return 0
	}

	w := s.Weights
	score := 0.0
	if a.Platform == b.Platform {
		score += w.Platform
	}
	score += w.Screen * s.screenFactor(a.Screen, b.Screen)
	score += w.UserAgent * s.userAgentFactor(a, b)
	if a.Timezone == b.Timezone {
		score += w.Timezone
	}
	if a.Language == b.Language {
		score += w.Language
	}
	if equalInt(a.HardwareConcurrency, b.HardwareConcurrency) {
		score += w.HardwareConcurrency
	}
	if equalBool(a.CookieEnabled, b.CookieEnabled) {
		score += w.CookieEnabled
	}
	if a.Vendor == b.Vendor {
		score += w.Vendor
	}
	if equalInt(a.MaxTouchPoints, b.MaxTouchPoints) {
		score += w.MaxTouchPoints
	}
	if equalString(a.DoNotTrack, b.DoNotTrack) {
		score += w.DoNotTrack
	}

	// float summation drifts below 1.0 for identical input
	score = math.Round(score*1e9) / 1e9
	return math.Min(score, 1.0)
}

// Match reports whether the two fingerprints clear the threshold.
func (s *Scorer) Match(a, b Fingerprint) bool {
	return s.Score(a, b) >= s.Threshold
}

// Qualifies is the hard pre-filter: a candidate is disqualified when both sides
// declare platform, screen resolution or hardware concurrency and the values differ.
func Qualifies(a, b Fingerprint) bool {
	if a.Platform != "" && b.Platform != "" && a.Platform != b.Platform {
		return false
	}
	if a.Screen != nil && b.Screen != nil &&
		(a.Screen.Width != b.Screen.Width || a.Screen.Height != b.Screen.Height) {
		return false
	}
	if a.HardwareConcurrency != nil && b.HardwareConcurrency != nil &&
		*a.HardwareConcurrency != *b.HardwareConcurrency {
		return false
	}
	return true
}

// BestMatch scores the qualifying candidates and returns the index of the best one
// at or above the threshold. Earlier candidates win ties.
func (s *Scorer) BestMatch(fp Fingerprint, candidates []Fingerprint) (int, float64, bool) {
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		if !Qualifies(fp, c) {
			continue
		}
		score := s.Score(fp, c)
		if score >= s.Threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore, best >= 0
}

// anchored requires an anchor attribute on both sides and both anchors on at least one.
func anchored(a, b Fingerprint) bool {
	anyA := a.HasPlatform() || a.HasScreen()
	anyB := b.HasPlatform() || b.HasScreen()
	if !anyA || !anyB {
		return false
	}
	return (a.HasPlatform() && a.HasScreen()) || (b.HasPlatform() && b.HasScreen())
}

func (s *Scorer) screenFactor(a, b *Screen) float64 {
	switch {
	case a == nil && b == nil:
		return 1
	case a == nil || b == nil:
		return 0
	case a.Width != b.Width || a.Height != b.Height:
		return 0
	}
	diff := a.ColorDepth - b.ColorDepth
	if diff < 0 {
		diff = -diff
	}
	if diff <= s.ColorDepthTolerance {
		return 1
	}
	return s.PartialScreenFactor
}

func (s *Scorer) userAgentFactor(a, b Fingerprint) float64 {
	if a.UserAgent == b.UserAgent && a.Browser == b.Browser {
		return 1
	}
	ua, ub := a.agent(), b.agent()
	sameBrowser := ua.Browser != "" && ua.Browser == ub.Browser
	sameOS := ua.OS != "" && ua.OS == ub.OS
	switch {
	case sameBrowser && sameOS:
		return 1
	case sameOS:
		return s.UAOSOnlyFactor
	case sameBrowser:
		return s.UABrowserOnlyFactor
	}
	return 0
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalBool(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
