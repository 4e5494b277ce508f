package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yswin-stack/campusride/config"
	"github.com/yswin-stack/campusride/internal/model"
)

func TestScheduleParams_InPeakAndSlotType(t *testing.T) {
	p := DefaultScheduleParams()

	assert.False(t, p.InPeak(6*60+55))
	assert.True(t, p.InPeak(7*60))
	assert.True(t, p.InPeak(9*60+55))
	assert.False(t, p.InPeak(10*60))
	assert.True(t, p.InPeak(15*60))
	assert.False(t, p.InPeak(18*60))

	assert.Equal(t, model.SlotPeak, p.SlotTypeFor(8*60+30))
	assert.Equal(t, model.SlotOffPeak, p.SlotTypeFor(12*60))
	assert.Equal(t, model.SlotOffPeak, p.SlotTypeFor(18*60))
}

func TestScheduleParams_Deadline(t *testing.T) {
	p := DefaultScheduleParams()
	// Window closing 08:35 means wheels down by 08:30.
	assert.Equal(t, 510, p.Deadline(515))
}

func TestParamsFromConfig_OverridesAndDefaults(t *testing.T) {
	sc := config.ScheduleConfig{
		Timezone:          "America/Winnipeg",
		PeakMorningStart:  "07:30",
		PeakMorningEnd:    "09:30",
		PeakEveningStart:  "16:00",
		PeakEveningEnd:    "18:30",
		ServiceDayStart:   "05:00",
		ServiceDayEnd:     "23:00",
		SlotWindowMinutes: 10,
		SlotDirections:    "home_to_campus,campus_to_home,home_to_work",
		HoldExpiryMinutes: 3,
		MaxRidesPerDay:    55,
	}
	p, err := ParamsFromConfig(sc)
	require.NoError(t, err)

	assert.Equal(t, "America/Winnipeg", p.Loc.String())
	assert.Equal(t, MinuteRange{Start: 450, End: 570}, p.PeakMorning)
	assert.Equal(t, MinuteRange{Start: 960, End: 1110}, p.PeakEvening)
	assert.Equal(t, MinuteRange{Start: 300, End: 1380}, p.ServiceDay)
	assert.Equal(t, 10, p.SlotWindowMinutes)
	assert.Equal(t, 3*time.Minute, p.HoldExpiry)
	assert.Equal(t, 55, p.MaxRidesPerDay)
	assert.Equal(t, []model.Direction{
		model.DirectionHomeToCampus,
		model.DirectionCampusToHome,
		model.DirectionHomeToWork,
	}, p.Directions)

	// Untouched knobs keep the stock profile.
	def := DefaultScheduleParams()
	assert.Equal(t, def.SlotMaxPremium, p.SlotMaxPremium)
	assert.Equal(t, def.ConflictBufferMinutes, p.ConflictBufferMinutes)
	assert.Equal(t, def.Campus, p.Campus)
}

func TestParamsFromConfig_RejectsBadClock(t *testing.T) {
	sc := config.ScheduleConfig{
		Timezone:         "UTC",
		PeakMorningStart: "7am",
		PeakMorningEnd:   "10:00",
		PeakEveningStart: "15:00",
		PeakEveningEnd:   "18:00",
		ServiceDayStart:  "06:00",
		ServiceDayEnd:    "22:00",
	}
	_, err := ParamsFromConfig(sc)
	assert.Error(t, err)
}

func TestParamsFromConfig_RejectsBadTimezone(t *testing.T) {
	sc := config.ScheduleConfig{Timezone: "Mars/Olympus"}
	_, err := ParamsFromConfig(sc)
	assert.Error(t, err)
}
