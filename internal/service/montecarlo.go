package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/pkg/metrics"
)

// MonteCarloSimulator replays a scheduled day many times under sampled
// travel and rider behavior, measuring how often the on-time guarantee
// holds. Runs are independent, each seeded from base seed plus run index,
// so a summary is reproducible from its recorded seed.
type MonteCarloSimulator struct {
	travel      *TravelTimeModel
	behavior    *RiderBehaviorModel
	state       *ScheduleState
	catalog     *SlotCatalog
	jobs        JobStore
	params      ScheduleParams
	defaultRuns int
	workers     int
	baseSeed    int64
	noShowWait  float64
	clock       Clock
	logger      *zap.SugaredLogger
}

func NewMonteCarloSimulator(
	travel *TravelTimeModel,
	behavior *RiderBehaviorModel,
	state *ScheduleState,
	catalog *SlotCatalog,
	jobs JobStore,
	params ScheduleParams,
	defaultRuns, workers int,
	baseSeed int64,
	noShowWaitMinutes float64,
	clock Clock,
	logger *zap.SugaredLogger,
) *MonteCarloSimulator {
	if defaultRuns <= 0 {
		defaultRuns = 1000
	}
	if workers <= 0 {
		workers = 8
	}
	if noShowWaitMinutes <= 0 {
		noShowWaitMinutes = 2.0
	}
	return &MonteCarloSimulator{
		travel:      travel,
		behavior:    behavior,
		state:       state,
		catalog:     catalog,
		jobs:        jobs,
		params:      params,
		defaultRuns: defaultRuns,
		workers:     workers,
		baseSeed:    baseSeed,
		noShowWait:  noShowWaitMinutes,
		clock:       clock,
		logger:      logger.Named("montecarlo"),
	}
}

// mcRide is one scheduled ride prepared for repeated simulation: the
// behavior profile and deadline are computed once, outside the hot loop.
type mcRide struct {
	sim      simRide
	profile  BehaviorProfile
	deadline float64
	hour     int
}

// mcGroup is one block's rides with the block's starting minute.
type mcGroup struct {
	startMin int
	rides    []mcRide
}

// mcPlan is the immutable per-day input shared by every run.
type mcPlan struct {
	date    string
	weekday time.Weekday
	groups  []mcGroup
	total   int
}

type runTally struct {
	premiumTotal  int
	premiumOnTime int
	otherTotal    int
	otherOnTime   int
	maxLateness   float64
	lateSlots     map[string]struct{}
	lateHours     map[int]int
}

// RunSimulation executes the batch synchronously and aggregates rates.
// Workers check the context between runs, so cancellation is prompt.
func (s *MonteCarloSimulator) RunSimulation(ctx context.Context, date string, scenario Scenario, runs int) (*model.SimulationSummary, error) {
	sc := scenario.normalize()
	runs = s.resolveRuns(sc, runs)
	started := time.Now()

	plan, err := s.prepare(ctx, date, sc)
	if err != nil {
		return nil, err
	}

	seed := s.baseSeed
	if seed == 0 {
		seed = s.clock.Now().UnixNano()
	}

	summary := &model.SimulationSummary{Runs: runs, Seed: seed, RidesPerRun: plan.total}
	if plan.total == 0 {
		summary.PremiumOnTimeMean, summary.PremiumOnTimeP5, summary.PremiumOnTimeMin = 1, 1, 1
		summary.NonPremiumOnTimeMean, summary.NonPremiumOnTimeP5, summary.NonPremiumOnTimeMin = 1, 1, 1
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("no occupying rides scheduled on %s", date))
		summary.ElapsedMillis = time.Since(started).Milliseconds()
		return summary, nil
	}

	tallies := make([]runTally, runs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := 0; i < runs; i++ {
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			rng := rand.New(rand.NewSource(seed + int64(i)))
			tallies[i] = s.simulateDay(rng, plan, sc)
			metrics.SimulationRuns.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.aggregate(ctx, summary, tallies, runs, date)
	summary.ElapsedMillis = time.Since(started).Milliseconds()
	metrics.SimulationDuration.Observe(time.Since(started).Seconds())
	s.logger.Infow("simulation finished",
		"date", date, "scenario", sc.Name, "runs", runs,
		"premium_mean", summary.PremiumOnTimeMean,
		"non_premium_mean", summary.NonPremiumOnTimeMean,
		"elapsed_ms", summary.ElapsedMillis)
	return summary, nil
}

// RunAndSaveSimulation records a job and runs the batch in the
// background, marking the job completed or failed.
func (s *MonteCarloSimulator) RunAndSaveSimulation(ctx context.Context, date string, scenario Scenario, runs int) (*model.SimulationJob, error) {
	sc := scenario.normalize()
	job := &model.SimulationJob{
		ID:        uuid.NewString(),
		Date:      date,
		Scenario:  sc.Name,
		Runs:      s.resolveRuns(sc, runs),
		Status:    model.JobPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	go func() {
		bg := context.Background()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Errorw("simulation panicked", "job_id", job.ID, "panic", r)
				_ = s.jobs.MarkJobFailed(bg, job.ID, fmt.Sprintf("panic: %v", r), s.clock.Now())
			}
		}()
		if err := s.jobs.MarkJobRunning(bg, job.ID, s.clock.Now()); err != nil {
			s.logger.Errorw("mark job running failed", "job_id", job.ID, "error", err)
			return
		}
		summary, err := s.RunSimulation(bg, date, sc, job.Runs)
		if err != nil {
			_ = s.jobs.MarkJobFailed(bg, job.ID, err.Error(), s.clock.Now())
			return
		}
		if err := s.jobs.MarkJobCompleted(bg, job.ID, summary, s.clock.Now()); err != nil {
			s.logger.Errorw("mark job completed failed", "job_id", job.ID, "error", err)
		}
	}()

	return job, nil
}

// GetSimulationJob loads one job.
func (s *MonteCarloSimulator) GetSimulationJob(ctx context.Context, jobID string) (*model.SimulationJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// ─── Run internals ──────────────────────────────────────────

func (s *MonteCarloSimulator) resolveRuns(sc Scenario, runs int) int {
	if runs > 0 {
		return runs
	}
	if sc.Runs > 0 {
		return sc.Runs
	}
	return s.defaultRuns
}

// prepare snapshots the day once: rides grouped by block in service
// order, with behavior profiles and deadlines precomputed.
func (s *MonteCarloSimulator) prepare(ctx context.Context, date string, sc Scenario) (*mcPlan, error) {
	day, err := s.state.LoadDay(ctx, date)
	if err != nil {
		return nil, err
	}
	weekday := weekdayOf(date)

	plan := &mcPlan{date: date, weekday: weekday}
	for _, block := range s.state.Blocks() {
		rides := buildSimRides(s.state.RidesInBlock(day, block), nil, nil, FeasibilityRequest{})
		if len(rides) == 0 {
			continue
		}
		group := mcGroup{startMin: block.Range.Start, rides: make([]mcRide, 0, len(rides))}
		for _, r := range rides {
			tc := model.TimeContext{Date: date, Minutes: r.startMin, Weekday: weekday, Weather: sc.Weather}
			group.rides = append(group.rides, mcRide{
				sim:      r,
				profile:  s.behavior.Profile(ctx, r.riderID, tc),
				deadline: float64(s.params.Deadline(r.endMin)),
				hour:     r.startMin / 60,
			})
		}
		plan.groups = append(plan.groups, group)
		plan.total += len(group.rides)
	}
	return plan, nil
}

// simulateDay runs one sampled day across all blocks on the same
// monotonic-clock model the feasibility chain uses: each block starts at
// its opening minute from the driver base.
func (s *MonteCarloSimulator) simulateDay(rng *rand.Rand, plan *mcPlan, sc Scenario) runTally {
	tally := runTally{
		lateSlots: make(map[string]struct{}),
		lateHours: make(map[int]int),
	}

	for _, group := range plan.groups {
		clockMin := float64(group.startMin)
		pos := s.params.DriverBase
		for _, r := range group.rides {
			tc := model.TimeContext{Date: plan.date, Minutes: clampedMinutes(clockMin), Weekday: plan.weekday, Weather: sc.Weather}
			clockMin += s.travel.Sample(rng, pos, r.sim.origin, tc, sc.TrafficVariance)

			draw := s.behavior.Sample(rng, r.profile, sc.RiderVariance)
			if draw.NoShow {
				clockMin += s.noShowWait
				continue
			}
			clockMin += math.Max(0, draw.DelayMinutes)

			tc = tc.At(clampedMinutes(clockMin))
			clockMin += s.travel.Sample(rng, r.sim.origin, r.sim.dest, tc, sc.TrafficVariance)

			lateness := clockMin - r.deadline
			onTime := lateness <= 0
			if r.sim.plan.IsPremium() {
				tally.premiumTotal++
				if onTime {
					tally.premiumOnTime++
				}
			} else {
				tally.otherTotal++
				if onTime {
					tally.otherOnTime++
				}
			}
			if !onTime {
				tally.lateSlots[r.sim.slotID] = struct{}{}
				tally.lateHours[r.hour]++
				if lateness > tally.maxLateness {
					tally.maxLateness = lateness
				}
			}
			pos = r.sim.dest
		}
	}
	return tally
}

// aggregate folds per-run tallies into the summary: means, the worst 5%
// (5th percentile), minima, lateness extremes, capacity suggestions and
// recommendations.
func (s *MonteCarloSimulator) aggregate(ctx context.Context, summary *model.SimulationSummary, tallies []runTally, runs int, date string) {
	premRates := make([]float64, runs)
	otherRates := make([]float64, runs)
	slotLateRuns := make(map[string]int)
	hourLate := make(map[int]int)
	var maxLate, sumMax float64

	for i, t := range tallies {
		premRates[i] = onTimeRate(t.premiumOnTime, t.premiumTotal)
		otherRates[i] = onTimeRate(t.otherOnTime, t.otherTotal)
		if t.maxLateness > maxLate {
			maxLate = t.maxLateness
		}
		sumMax += t.maxLateness
		for slot := range t.lateSlots {
			slotLateRuns[slot]++
		}
		for h, n := range t.lateHours {
			hourLate[h] += n
		}
	}

	summary.PremiumOnTimeMean = mean(premRates)
	summary.PremiumOnTimeP5 = percentile5(premRates)
	summary.PremiumOnTimeMin = minOf(premRates)
	summary.NonPremiumOnTimeMean = mean(otherRates)
	summary.NonPremiumOnTimeP5 = percentile5(otherRates)
	summary.NonPremiumOnTimeMin = minOf(otherRates)
	summary.MaxLatenessMinutes = round1(maxLate)
	summary.MeanMaxLateness = round1(sumMax / float64(runs))

	summary.SlotSuggestions = s.slotSuggestions(ctx, date, slotLateRuns, runs)

	if summary.PremiumOnTimeMean < s.params.PremiumOnTimeTarget {
		summary.Recommendations = append(summary.Recommendations, fmt.Sprintf(
			"premium on-time rate %.3f is below the %.2f target: reduce non-premium capacity",
			summary.PremiumOnTimeMean, s.params.PremiumOnTimeTarget))
	}
	if summary.NonPremiumOnTimeMean < s.params.NonPremiumOnTimeTarget {
		summary.Recommendations = append(summary.Recommendations, fmt.Sprintf(
			"non-premium on-time rate %.3f is below the %.2f target: reduce non-premium capacity in the worst hours (%s)",
			summary.NonPremiumOnTimeMean, s.params.NonPremiumOnTimeTarget, worstHours(hourLate)))
	}
	if summary.MaxLatenessMinutes > 15 {
		summary.Recommendations = append(summary.Recommendations, fmt.Sprintf(
			"max lateness %.1f min exceeds 15 min: review slot density", summary.MaxLatenessMinutes))
	}
	if runs < 100 {
		summary.Warnings = append(summary.Warnings, "fewer than 100 runs, rates are noisy")
	}
}

// slotSuggestions proposes halving the non-Premium cap of slots late in
// more than 10% of runs.
func (s *MonteCarloSimulator) slotSuggestions(ctx context.Context, date string, slotLateRuns map[string]int, runs int) []model.SlotSuggestion {
	if len(slotLateRuns) == 0 {
		return nil
	}
	slots, err := s.catalog.GetSlotsForDate(ctx, date, "")
	if err != nil {
		s.logger.Warnw("slot lookup for suggestions failed", "error", err)
		return nil
	}
	byID := make(map[string]model.TimeSlot, len(slots))
	for _, slot := range slots {
		byID[slot.ID] = slot
	}

	var out []model.SlotSuggestion
	for slotID, lateRuns := range slotLateRuns {
		rate := float64(lateRuns) / float64(runs)
		slot, ok := byID[slotID]
		if rate <= 0.10 || !ok || slot.MaxNonPremium == 0 {
			continue
		}
		out = append(out, model.SlotSuggestion{
			SlotID:              slotID,
			LateRate:            round3(rate),
			CurrentNonPremium:   slot.MaxNonPremium,
			SuggestedNonPremium: slot.MaxNonPremium / 2,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LateRate != out[j].LateRate {
			return out[i].LateRate > out[j].LateRate
		}
		return out[i].SlotID < out[j].SlotID
	})
	return out
}

// ─── Small math helpers ─────────────────────────────────────

// onTimeRate treats a run with no rides of the tier as fully on time.
func onTimeRate(onTime, total int) float64 {
	if total == 0 {
		return 1.0
	}
	return float64(onTime) / float64(total)
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// percentile5 returns the 5th percentile, the boundary of the worst 5%
// of runs.
func percentile5(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.05)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func minOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// worstHours lists the three hours with the most late rides.
func worstHours(hourLate map[int]int) string {
	type hourCount struct {
		hour, count int
	}
	hs := make([]hourCount, 0, len(hourLate))
	for h, n := range hourLate {
		hs = append(hs, hourCount{h, n})
	}
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].count != hs[j].count {
			return hs[i].count > hs[j].count
		}
		return hs[i].hour < hs[j].hour
	})
	if len(hs) > 3 {
		hs = hs[:3]
	}
	parts := make([]string, len(hs))
	for i, hc := range hs {
		parts[i] = fmt.Sprintf("%02d:00", hc.hour)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func clampedMinutes(v float64) int {
	if v < 0 {
		return 0
	}
	if v >= 24*60 {
		return 24*60 - 1
	}
	return int(v)
}
