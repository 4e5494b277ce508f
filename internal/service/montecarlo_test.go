package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
	"github.com/yswin-stack/campusride/pkg/logging"
)

func newSim(c *core, defaultRuns int, baseSeed int64) *service.MonteCarloSimulator {
	return service.NewMonteCarloSimulator(
		c.travel, c.behavior, c.state, c.catalog, c.store, c.params,
		defaultRuns, 4, baseSeed, 2.0, c.clock, logging.NewNop(),
	)
}

func TestRunSimulation_EmptyDayShortCircuits(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	sim := newSim(c, 500, 42)

	summary, err := sim.RunSimulation(ctx, testDate, service.Scenario{}, 50)
	require.NoError(t, err)

	assert.Equal(t, 50, summary.Runs)
	assert.Equal(t, int64(42), summary.Seed)
	assert.Equal(t, 0, summary.RidesPerRun)
	assert.Equal(t, 1.0, summary.PremiumOnTimeMean)
	assert.Equal(t, 1.0, summary.PremiumOnTimeP5)
	assert.Equal(t, 1.0, summary.PremiumOnTimeMin)
	assert.Equal(t, 1.0, summary.NonPremiumOnTimeMean)
	assert.Equal(t, 1.0, summary.NonPremiumOnTimeP5)
	assert.Equal(t, 1.0, summary.NonPremiumOnTimeMin)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "no occupying rides scheduled on "+testDate)
}

func TestRunSimulation_ReproducibleFromSeed(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)
	c.seedRide(t, "ride-morning", "R1", model.PlanPremium, "08:00", "08:05", suburbLoc)
	c.seedRide(t, "ride-midday", "R2", model.PlanStandard, "10:00", "10:05", suburbLoc)
	sim := newSim(c, 500, 777)

	first, err := sim.RunSimulation(ctx, testDate, service.Scenario{}, 150)
	require.NoError(t, err)
	second, err := sim.RunSimulation(ctx, testDate, service.Scenario{}, 150)
	require.NoError(t, err)

	assert.Equal(t, 2, first.RidesPerRun)
	assert.Equal(t, int64(777), first.Seed)

	first.ElapsedMillis, second.ElapsedMillis = 0, 0
	assert.Equal(t, first, second)
}

func TestRunSimulation_StormDegradesOnTimeRates(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)

	// An 08:00 arrival leaves roughly twenty minutes of slack on a clear
	// day; a storm nearly triples the rush-hour travel time and burns it.
	c.seedRide(t, "ride-tight", "R1", model.PlanPremium, "08:00", "08:05", suburbLoc)
	sim := newSim(c, 500, 99)

	clear, err := sim.RunSimulation(ctx, testDate, service.Scenario{Weather: model.WeatherClear}, 400)
	require.NoError(t, err)
	storm, err := sim.RunSimulation(ctx, testDate, service.Scenario{Weather: model.WeatherStorm}, 400)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, clear.PremiumOnTimeMean, 0.9)
	assert.LessOrEqual(t, storm.PremiumOnTimeMean, 0.6)
	assert.Greater(t, clear.PremiumOnTimeMean, storm.PremiumOnTimeMean)
}

func TestRunSimulation_FlagsChronicallyLateSlot(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)

	// The mid-day service chain cannot reach campus by 10:00 from the
	// suburb, so this ride is late in every run it shows up for.
	c.seedRide(t, "ride-doomed", "R1", model.PlanStandard, "10:00", "10:05", suburbLoc)
	sim := newSim(c, 500, 7)

	summary, err := sim.RunSimulation(ctx, testDate, service.Scenario{}, 200)
	require.NoError(t, err)

	assert.Equal(t, 1.0, summary.PremiumOnTimeMean)
	assert.Less(t, summary.NonPremiumOnTimeMean, 0.5)
	assert.Greater(t, summary.MaxLatenessMinutes, 15.0)

	require.Len(t, summary.SlotSuggestions, 1)
	sg := summary.SlotSuggestions[0]
	assert.Equal(t, testDate+"_home_to_campus_1000", sg.SlotID)
	assert.Greater(t, sg.LateRate, 0.5)
	assert.Equal(t, 2, sg.CurrentNonPremium)
	assert.Equal(t, 1, sg.SuggestedNonPremium)

	require.NotEmpty(t, summary.Recommendations)
	joined := strings.Join(summary.Recommendations, "\n")
	assert.Contains(t, joined, "worst hours (10:00)")
	assert.Empty(t, summary.Warnings)
}

func TestRunSimulation_FewRunsWarning(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)
	c.seedRide(t, "ride-1", "R1", model.PlanStandard, "11:00", "11:05", suburbLoc)
	sim := newSim(c, 500, 3)

	summary, err := sim.RunSimulation(ctx, testDate, service.Scenario{}, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RidesPerRun)
	assert.Contains(t, summary.Warnings, "fewer than 100 runs, rates are noisy")
}

func TestRunSimulation_RunCountPrecedence(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	sim := newSim(c, 120, 1)

	byDefault, err := sim.RunSimulation(ctx, testDate, service.Scenario{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 120, byDefault.Runs)

	byScenario, err := sim.RunSimulation(ctx, testDate, service.Scenario{Runs: 77}, 0)
	require.NoError(t, err)
	assert.Equal(t, 77, byScenario.Runs)

	explicit, err := sim.RunSimulation(ctx, testDate, service.Scenario{Runs: 77}, 33)
	require.NoError(t, err)
	assert.Equal(t, 33, explicit.Runs)
}

func TestRunSimulation_ContextCancellation(t *testing.T) {
	c := newCore(t, nil)
	c.initDate(t, testDate)
	c.seedRide(t, "ride-1", "R1", model.PlanStandard, "11:00", "11:05", suburbLoc)
	sim := newSim(c, 500, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.RunSimulation(ctx, testDate, service.Scenario{}, 1000)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunAndSaveSimulation_JobLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, nil)
	c.initDate(t, testDate)
	c.seedRide(t, "ride-1", "R1", model.PlanPremium, "08:30", "08:35", suburbLoc)
	sim := newSim(c, 500, 11)

	job, err := sim.RunAndSaveSimulation(ctx, testDate, service.Scenario{}, 60)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, testDate, job.Date)
	assert.Equal(t, "baseline", job.Scenario)
	assert.Equal(t, 60, job.Runs)

	require.Eventually(t, func() bool {
		j, err := sim.GetSimulationJob(ctx, job.ID)
		return err == nil && j.Status == model.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	done, err := sim.GetSimulationJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 60, done.Summary.Runs)
	assert.Equal(t, 1, done.Summary.RidesPerRun)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)
}
