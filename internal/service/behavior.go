package service

import (
	"context"
	"math"
	"math/rand"

	"github.com/yswin-stack/campusride/internal/model"
)

const (
	// minCompletedForHistory is the ride count below which a rider keeps
	// the default profile.
	minCompletedForHistory = 5

	// walkToCurbMinutes is the floor on expected ready delay: nobody
	// teleports from the door to the curb.
	walkToCurbMinutes = 1.5

	defaultStdReadyDelay     = 1.5
	defaultNoShowProbability = 0.03
)

// BehaviorProfile is the deterministic readiness profile of a rider at a
// moment in time.
type BehaviorProfile struct {
	ExpectedReadyDelay float64 `json:"expected_ready_delay"`
	StdReadyDelay      float64 `json:"std_ready_delay"`
	P95ReadyDelay      float64 `json:"p95_ready_delay"`
	NoShowProbability  float64 `json:"no_show_probability"`
	ReliabilityScore   float64 `json:"reliability_score"`
}

// BehaviorSample is one randomized readiness outcome.
type BehaviorSample struct {
	DelayMinutes float64
	NoShow       bool
}

// RiderBehaviorModel predicts how long a rider takes to reach the curb
// and how likely they are to not show at all. The default path needs no
// storage; historical aggregates override it once a rider has enough
// completed rides.
type RiderBehaviorModel struct {
	stats        StatsStore // nil disables the historical override
	defaultDelay float64
}

func NewRiderBehaviorModel(stats StatsStore, defaultDelayMinutes float64) *RiderBehaviorModel {
	if defaultDelayMinutes <= 0 {
		defaultDelayMinutes = 2.0
	}
	return &RiderBehaviorModel{stats: stats, defaultDelay: defaultDelayMinutes}
}

// Profile returns the rider's readiness profile for the given time context.
func (m *RiderBehaviorModel) Profile(ctx context.Context, riderID string, tc model.TimeContext) BehaviorProfile {
	expected := math.Max(m.defaultDelay, walkToCurbMinutes)
	std := defaultStdReadyDelay
	noShow := defaultNoShowProbability

	if m.stats != nil {
		if st, err := m.stats.GetRiderStats(ctx, riderID); err == nil && st != nil && st.CompletedRides >= minCompletedForHistory {
			n := float64(st.CompletedRides)
			mean := st.DelaySumMin / n
			variance := st.DelaySumSqMin/n - mean*mean
			expected = math.Max(mean, walkToCurbMinutes)
			std = math.Max(math.Sqrt(math.Max(variance, 0)), 0.5)
			if st.TotalBookings > 0 {
				noShow = clamp(float64(st.NoShows)/float64(st.TotalBookings), 0, 0.5)
			}
		}
	}

	expected += timeOfDayShift(tc.Minutes)

	return BehaviorProfile{
		ExpectedReadyDelay: expected,
		StdReadyDelay:      std,
		P95ReadyDelay:      expected + 1.645*std,
		NoShowProbability:  noShow,
		ReliabilityScore:   reliability(expected, noShow),
	}
}

// Sample draws one readiness outcome. No-show is Bernoulli; otherwise the
// delay is normal around the expected value, clamped to [-3, +15] minutes.
func (m *RiderBehaviorModel) Sample(rng *rand.Rand, p BehaviorProfile, level VarianceLevel) BehaviorSample {
	if rng.Float64() < p.NoShowProbability {
		return BehaviorSample{NoShow: true}
	}
	delay := p.ExpectedReadyDelay + p.StdReadyDelay*level.Factor()*boxMuller(rng)
	return BehaviorSample{DelayMinutes: clamp(delay, -3, 15)}
}

// timeOfDayShift nudges the expectation: pre-dawn pickups run slower,
// the morning rush and late evenings slightly so.
func timeOfDayShift(minutes int) float64 {
	switch {
	case minutes < 7*60:
		return 1.0
	case minutes < 9*60:
		return 0.5
	case minutes >= 22*60:
		return 0.5
	default:
		return 0
	}
}

// reliability folds no-show risk and chronic lateness into a [0,1] score.
func reliability(expected, noShow float64) float64 {
	score := 1.0 - noShow*2.5 - math.Max(0, expected-2.0)*0.03
	return clamp(score, 0, 1)
}
