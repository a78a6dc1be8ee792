package analytics

// Weights is the explicit scoring configuration for composite metrics.
// Every score component is named here so the derivation of a 0-100
// score is inspectable and reproducible.
type Weights struct {
	// PauseThresholdMs is the gap above which time is excluded from
	// active writing time.
	PauseThresholdMs int64 `json:"pause_threshold_ms" toml:"pause_threshold_ms"`

	// BurstGapMs is the maximum inter-key gap inside a burst.
	BurstGapMs int64 `json:"burst_gap_ms" toml:"burst_gap_ms"`

	// BurstMinKeystrokes is the minimum run length to count as a burst.
	BurstMinKeystrokes int `json:"burst_min_keystrokes" toml:"burst_min_keystrokes"`

	// Focus score components.
	FocusShortPauseWeight float64 `json:"focus_short_pause_weight" toml:"focus_short_pause_weight"`
	FocusLongPausePenalty float64 `json:"focus_long_pause_penalty" toml:"focus_long_pause_penalty"`
	FocusBurstWeight      float64 `json:"focus_burst_weight" toml:"focus_burst_weight"`

	// Productivity score components.
	ProductivityWPMWeight    float64 `json:"productivity_wpm_weight" toml:"productivity_wpm_weight"`
	ProductivityOutputWeight float64 `json:"productivity_output_weight" toml:"productivity_output_weight"`
	ProductivityWPMTarget    float64 `json:"productivity_wpm_target" toml:"productivity_wpm_target"`

	// Engagement score components.
	EngagementActiveWeight      float64 `json:"engagement_active_weight" toml:"engagement_active_weight"`
	EngagementConsistencyWeight float64 `json:"engagement_consistency_weight" toml:"engagement_consistency_weight"`

	// Classification thresholds.
	EditingRatioHigh   float64 `json:"editing_ratio_high" toml:"editing_ratio_high"`
	FocusScoreHigh     float64 `json:"focus_score_high" toml:"focus_score_high"`
	FocusScoreLow      float64 `json:"focus_score_low" toml:"focus_score_low"`
	LongPauseRatioHigh float64 `json:"long_pause_ratio_high" toml:"long_pause_ratio_high"`
}

// Default weight values. A 40 WPM target corresponds to an average
// typist; scores saturate at that rate rather than rewarding speed
// indefinitely.
const (
	DefaultPauseThresholdMs   int64 = 2000
	DefaultBurstGapMs         int64 = 1000
	DefaultBurstMinKeystrokes       = 10

	DefaultFocusShortPauseWeight = 0.4
	DefaultFocusLongPausePenalty = 0.3
	DefaultFocusBurstWeight      = 0.3

	DefaultProductivityWPMWeight    = 0.6
	DefaultProductivityOutputWeight = 0.4
	DefaultProductivityWPMTarget    = 40.0

	DefaultEngagementActiveWeight      = 0.5
	DefaultEngagementConsistencyWeight = 0.5

	DefaultEditingRatioHigh   = 0.3
	DefaultFocusScoreHigh     = 70.0
	DefaultFocusScoreLow      = 40.0
	DefaultLongPauseRatioHigh = 0.25
)

// DefaultWeights returns the standard scoring configuration.
func DefaultWeights() Weights {
	return Weights{
		PauseThresholdMs:   DefaultPauseThresholdMs,
		BurstGapMs:         DefaultBurstGapMs,
		BurstMinKeystrokes: DefaultBurstMinKeystrokes,

		FocusShortPauseWeight: DefaultFocusShortPauseWeight,
		FocusLongPausePenalty: DefaultFocusLongPausePenalty,
		FocusBurstWeight:      DefaultFocusBurstWeight,

		ProductivityWPMWeight:    DefaultProductivityWPMWeight,
		ProductivityOutputWeight: DefaultProductivityOutputWeight,
		ProductivityWPMTarget:    DefaultProductivityWPMTarget,

		EngagementActiveWeight:      DefaultEngagementActiveWeight,
		EngagementConsistencyWeight: DefaultEngagementConsistencyWeight,

		EditingRatioHigh:   DefaultEditingRatioHigh,
		FocusScoreHigh:     DefaultFocusScoreHigh,
		FocusScoreLow:      DefaultFocusScoreLow,
		LongPauseRatioHigh: DefaultLongPauseRatioHigh,
	}
}
