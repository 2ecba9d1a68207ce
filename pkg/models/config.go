package models

// Default tables for the SZ Viewer diagnostic session. Pages are the
// responses to the 21A0/21A2/21A5/21CD requests; fields are the values the
// viewer shows on screen.

// DefaultChannels lists the diagnostic pages in scan order
var DefaultChannels = []Channel{"21A0", "21A2", "21A5", "21CD"}

// DefaultFields lists the on-screen values in report order
var DefaultFields = []Field{
	"desired_idle_speed_rpm",
	"accelerator_pct",
	"intake_c",
	"battery_v",
	"fuel_temp_c",
	"bar_pressure_kpa",
	"bar_pressure_mmhg",
	"abs_pressure_mbar",
	"air_flow_estimate_mgcp",
	"air_flow_request_mgcp",
	"speed_kmh",
	"rail_pressure_bar",
	"rail_pressure_control_bar",
	"desired_egr_position_pct",
	"gear_ratio",
	"egr_position_pct",
	"engine_temp_c",
	"air_temp_c",
	"requested_in_pressure_mbar",
	"engine_rpm",
}

// DefaultFormulas is the fixed table tried at every slot. Some scales
// appear twice under different labels; the first label wins on ties.
var DefaultFormulas = []Formula{
	{Label: "raw", Mult: 1, Div: 1},
	{Label: "raw/10", Mult: 1, Div: 10},
	{Label: "raw/100", Mult: 1, Div: 100},
	{Label: "raw/1000", Mult: 1, Div: 1000},
	{Label: "raw*0.25", Mult: 1, Div: 4},
	{Label: "raw*0.5", Mult: 1, Div: 2},
	{Label: "raw*0.01", Mult: 1, Div: 100},
	{Label: "raw*0.1", Mult: 1, Div: 10},
	{Label: "raw*5", Mult: 5, Div: 1},
	{Label: "raw*8", Mult: 8, Div: 1},
	{Label: "raw*2.5", Mult: 25, Div: 10},
}

// DefaultPercentFields are reported ×100 by the OCR when the decimal point
// is lost (64.02 read as 6402)
var DefaultPercentFields = []Field{
	"desired_egr_position_pct",
	"egr_position_pct",
	"accelerator_pct",
}

// DefaultOverrides seeds fields whose reference barely varies in captures
// (engine idling at ~105 raw → 840 rpm, EGR 50147 → 50.147 %)
var DefaultOverrides = []PriorityOverride{
	{
		Field:   "engine_rpm",
		Slot:    Slot{Channel: "21A2", Offset: 12},
		Formula: Formula{Label: "raw*8", Mult: 8, Div: 1},
	},
	{
		Field:   "egr_position_pct",
		Slot:    Slot{Channel: "21A5", Offset: 6},
		Formula: Formula{Label: "raw/1000", Mult: 1, Div: 1000},
	},
}
