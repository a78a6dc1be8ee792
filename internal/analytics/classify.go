package analytics

// SessionType is a rule-based classification of a writing session.
type SessionType string

// Session types.
const (
	TypeFocused     SessionType = "focused"
	TypeEditing     SessionType = "editing"
	TypeExploratory SessionType = "exploratory"
	TypeDistracted  SessionType = "distracted"
)

// Classify assigns a session type from computed metrics. Rules are
// evaluated in a fixed order and the first match wins, so overlapping
// conditions resolve deterministically:
//
//  1. distracted: focus score below the low threshold, or long pauses
//     dominate the gap distribution
//  2. editing: editing ratio above the high threshold
//  3. focused: focus score at or above the high threshold
//  4. exploratory: everything else
func Classify(a SessionAnalytics, w Weights) SessionType {
	longRatio := 0.0
	if total := a.PauseBuckets.Total(); total > 0 {
		longRatio = float64(a.PauseBuckets.Long) / float64(total)
	}

	switch {
	case a.FocusScore < w.FocusScoreLow || longRatio > w.LongPauseRatioHigh:
		return TypeDistracted
	case a.EditingRatio > w.EditingRatioHigh:
		return TypeEditing
	case a.FocusScore >= w.FocusScoreHigh:
		return TypeFocused
	default:
		return TypeExploratory
	}
}
