package analytics

import (
	"fmt"
	"time"

	"typetrace/internal/event"
	"typetrace/internal/logging"
	"typetrace/internal/store"
)

// SessionSource provides read access to persisted sessions. *store.Store
// satisfies it.
type SessionSource interface {
	ListSessions(filter store.SessionFilter) ([]store.SessionSummary, error)
	GetSession(id string) (*event.SessionRecord, error)
}

// Service answers analytics queries over the session store. Each query
// recomputes from the stored event logs, so results always reflect the
// current retention state of the data.
type Service struct {
	source  SessionSource
	weights Weights
	logger  *logging.Logger
}

// NewService creates a query service with the given scoring weights.
func NewService(source SessionSource, weights Weights, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		source:  source,
		weights: weights,
		logger:  logger.WithComponent("analytics"),
	}
}

// BySubject computes analytics for every session of one subject,
// oldest first.
func (s *Service) BySubject(subjectID string) ([]SessionAnalytics, error) {
	return s.query(store.SessionFilter{SubjectID: subjectID})
}

// ByDocument computes analytics for every session on one document,
// oldest first.
func (s *Service) ByDocument(documentID string) ([]SessionAnalytics, error) {
	return s.query(store.SessionFilter{DocumentID: documentID})
}

// BySessions computes analytics for the named sessions.
func (s *Service) BySessions(ids []string) ([]SessionAnalytics, error) {
	if len(ids) == 0 {
		return []SessionAnalytics{}, nil
	}
	return s.query(store.SessionFilter{IDs: ids})
}

func (s *Service) query(filter store.SessionFilter) ([]SessionAnalytics, error) {
	summaries, err := s.source.ListSessions(filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	results := make([]SessionAnalytics, 0, len(summaries))
	for _, sum := range summaries {
		rec, err := s.source.GetSession(sum.ID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", sum.ID, err)
		}
		a := Compute(rec.Events, s.weights)
		a.SessionID = rec.ID
		a.SubjectID = rec.SubjectID
		a.DocumentID = rec.DocumentID
		results = append(results, a)
	}
	s.logger.Debug("analytics query", "sessions", len(results))
	return results, nil
}

// Summary aggregates analytics across sessions.
type Summary struct {
	TotalSessions            int                 `json:"total_sessions"`
	TotalTimeOnTask          time.Duration       `json:"total_time_on_task"`
	AverageWPM               float64             `json:"average_wpm"`
	AverageFocusScore        float64             `json:"average_focus_score"`
	AverageProductivityScore float64             `json:"average_productivity_score"`
	AverageEngagementScore   float64             `json:"average_engagement_score"`
	SessionTypeDistribution  map[SessionType]int `json:"session_type_distribution"`

	// ImprovementTrend is the change in average productivity score
	// between the chronologically older and newer halves of the
	// session list. Positive values indicate improvement.
	ImprovementTrend float64 `json:"improvement_trend"`
}

// Summarize aggregates a chronologically ordered analytics list.
func Summarize(list []SessionAnalytics) Summary {
	s := Summary{
		TotalSessions:           len(list),
		SessionTypeDistribution: map[SessionType]int{},
	}
	if len(list) == 0 {
		return s
	}

	for _, a := range list {
		s.TotalTimeOnTask += a.ActiveWritingTime
		s.AverageWPM += a.WordsPerMinute
		s.AverageFocusScore += a.FocusScore
		s.AverageProductivityScore += a.ProductivityScore
		s.AverageEngagementScore += a.EngagementScore
		s.SessionTypeDistribution[a.SessionType]++
	}
	n := float64(len(list))
	s.AverageWPM /= n
	s.AverageFocusScore /= n
	s.AverageProductivityScore /= n
	s.AverageEngagementScore /= n
	s.ImprovementTrend = improvementTrend(list)
	return s
}

// improvementTrend compares average productivity of the newer half of
// the sessions against the older half. Fewer than two sessions have no
// trend.
func improvementTrend(list []SessionAnalytics) float64 {
	if len(list) < 2 {
		return 0
	}
	mid := len(list) / 2
	older := meanProductivity(list[:mid])
	newer := meanProductivity(list[mid:])
	return newer - older
}

func meanProductivity(list []SessionAnalytics) float64 {
	if len(list) == 0 {
		return 0
	}
	sum := 0.0
	for _, a := range list {
		sum += a.ProductivityScore
	}
	return sum / float64(len(list))
}
