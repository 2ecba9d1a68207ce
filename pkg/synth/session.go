package synth

import (
	"github.com/strato3003/jimny/pkg/models"
)

func f(label string, mult, div, add float64) models.Formula {
	return models.Formula{Label: label, Mult: mult, Div: div, Add: add}
}

func at(ch models.Channel, off int) models.Slot {
	return models.Slot{Channel: ch, Offset: off}
}

// SessionTruths is the SZ Viewer layout as decoded from a real capture.
// air_temp_c uses an offset scale that is missing from the formula table.
var SessionTruths = []Truth{
	{"desired_idle_speed_rpm", at("21A0", 4), f("raw*0.25", 1, 4, 0), Signal{Base: 850, Amp: 60, Period: 170, Step: 10}},
	{"accelerator_pct", at("21A0", 24), f("raw", 1, 1, 0), Signal{Base: 30, Amp: 28, Period: 37, Phase: 0.3}},
	{"intake_c", at("21A2", 42), f("raw", 1, 1, 0), Signal{Base: 35, Amp: 6, Period: 230, Phase: 1.1}},
	{"battery_v", at("21A0", 14), f("raw/1000", 1, 1000, 0), Signal{Base: 13.8, Amp: 0.4, Period: 53, Phase: 2.0}},
	{"fuel_temp_c", at("21A2", 10), f("raw/10", 1, 10, 0), Signal{Base: 40, Amp: 9, Period: 310, Phase: 0.7}},
	{"bar_pressure_kpa", at("21A2", 22), f("raw/10", 1, 10, 0), Signal{Base: 98, Amp: 1.5, Period: 410, Phase: 2.6}},
	{"bar_pressure_mmhg", at("21A0", 12), f("raw*0.25", 1, 4, 0), Signal{Base: 735, Amp: 11, Period: 390, Phase: 0.2}},
	{"abs_pressure_mbar", at("21A0", 18), f("raw", 1, 1, 0), Signal{Base: 1300, Amp: 350, Period: 41, Phase: 1.4}},
	{"air_flow_estimate_mgcp", at("21A0", 20), f("raw/10", 1, 10, 0), Signal{Base: 420, Amp: 180, Period: 29, Phase: 0.9}},
	{"air_flow_request_mgcp", at("21A2", 28), f("raw*0.25", 1, 4, 0), Signal{Base: 440, Amp: 170, Period: 31, Phase: 2.9}},
	{"speed_kmh", at("21A2", 40), f("raw", 1, 1, 0), Signal{Base: 55, Amp: 45, Period: 97, Phase: 0.5}},
	{"rail_pressure_bar", at("21A2", 32), f("raw/10", 1, 10, 0), Signal{Base: 600, Amp: 320, Period: 23, Phase: 1.7}},
	{"rail_pressure_control_bar", at("21A2", 8), f("raw*0.5", 1, 2, 0), Signal{Base: 610, Amp: 300, Period: 19, Phase: 2.2}},
	{"desired_egr_position_pct", at("21CD", 4), f("raw/100", 1, 100, 0), Signal{Base: 45, Amp: 30, Period: 61, Phase: 0.1}},
	{"gear_ratio", at("21A5", 24), f("raw*5", 5, 1, 0), Signal{Base: 60, Amp: 40, Period: 83, Phase: 1.3, Step: 5}},
	{"egr_position_pct", at("21A5", 6), f("raw/1000", 1, 1000, 0), Signal{Base: 40, Amp: 22, Period: 67, Phase: 2.4}},
	{"engine_temp_c", at("21A2", 24), f("raw/100", 1, 100, 0), Signal{Base: 82, Amp: 7, Period: 270, Phase: 3.0}},
	{"air_temp_c", at("21A0", 8), f("linear", 0.75, 1, -48), Signal{Base: 22, Amp: 8, Period: 190, Phase: 1.9}},
	{"requested_in_pressure_mbar", at("21A0", 16), f("raw", 1, 1, 0), Signal{Base: 1350, Amp: 380, Period: 43, Phase: 0.8}},
	{"engine_rpm", at("21A2", 12), f("raw*8", 8, 1, 0), Signal{Base: 1900, Amp: 1000, Period: 47, Phase: 2.7, Step: 8}},
}

// SessionChannels mirrors the page lengths of the capture (two header bytes
// included) and the polling cadence of the logger
var SessionChannels = []ChannelSpec{
	{Channel: "21A0", Length: 28, Every: 1},
	{Channel: "21A2", Length: 46, Every: 2},
	{Channel: "21A5", Length: 28, Every: 3},
	{Channel: "21CD", Length: 8, Every: 5},
}

// DefaultConfig simulates a short drive with an OCR reading every third
// frame, two-decimal values and a few lost decimal points
func DefaultConfig() Config {
	return Config{
		Seed:           1,
		Observations:   600,
		Channels:       SessionChannels,
		Truths:         SessionTruths,
		ReferenceEvery: 3,
		Dropout:        0.05,
		Decimals:       3,
		DefectRate:     0.05,
		DefectFields:   models.DefaultPercentFields,
	}
}
