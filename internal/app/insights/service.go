// Package insights turns task and statistics data into language model prompts and parses the replies.
// Every call degrades to a fixed fallback when the model fails.
package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/app/tasks"
	"github.com/todo-1m/tms/internal/platform/llm"
	"github.com/todo-1m/tms/internal/platform/logging"
	"go.uber.org/zap"
)

const (
	DefaultRisk        = 0.5
	PatternSummaryType = "LLM_PATTERN_SUMMARY"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

func LevelFor(score float64) RiskLevel {
	switch {
	case score >= 0.7:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

type Risk struct {
	TaskID    int64     `json:"taskId"`
	TaskTitle string    `json:"taskTitle"`
	RiskScore float64   `json:"riskScore"`
	RiskLevel RiskLevel `json:"riskLevel"`
}

type Insight struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Service struct {
	LLM llm.Completer
	Now func() time.Time
	Log *zap.Logger
}

func NewService(completer llm.Completer, log *zap.Logger) *Service {
	return &Service{
		LLM: completer,
		Now: func() time.Time { return time.Now().UTC() },
		Log: logging.OrNop(log),
	}
}

// DailySummary asks the model for a summary of stats and returns the raw reply.
func (s *Service) DailySummary(ctx context.Context, user identity.User, stats analytics.DailyStats) (string, error) {
	return s.LLM.Complete(ctx, summaryPrompt(user, stats))
}

// Summarize is DailySummary with a fallback text built from the counters.
func (s *Service) Summarize(ctx context.Context, user identity.User, stats analytics.DailyStats) string {
	summary, err := s.DailySummary(ctx, user, stats)
	if err != nil || summary == "" {
		s.Log.Warn("daily summary unavailable", zap.String("date", stats.Date), zap.Error(err))
		return FallbackSummary(stats)
	}
	return summary
}

func FallbackSummary(stats analytics.DailyStats) string {
	return fmt.Sprintf("AI summary unavailable. Completed %d tasks today. Created %d new tasks.", stats.Completed, stats.Created)
}

var numberPattern = regexp.MustCompile(`\d*\.?\d+`)

// ParseScore reads the first number in reply and clamps it to [0, 1].
func ParseScore(reply string) (float64, bool) {
	match := numberPattern.FindString(reply)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return min(max(v, 0), 1), true
}

func (s *Service) OverdueRisk(ctx context.Context, user identity.User, task tasks.Task) Risk {
	score := DefaultRisk
	reply, err := s.LLM.Complete(ctx, riskPrompt(user, task))
	if err != nil {
		s.Log.Warn("overdue risk unavailable", zap.Int64("task_id", task.ID), zap.Error(err))
	} else if v, ok := ParseScore(reply); ok {
		score = v
	} else {
		s.Log.Warn("overdue risk reply had no number", zap.Int64("task_id", task.ID), zap.String("reply", reply))
	}
	return Risk{TaskID: task.ID, TaskTitle: task.Title, RiskScore: score, RiskLevel: LevelFor(score)}
}

var idPattern = regexp.MustCompile(`\d+`)

// ApplyOrder reorders list by the ids found in reply. Unknown and repeated ids are ignored and
// tasks the reply does not mention keep their relative order at the end.
func ApplyOrder(list []tasks.Task, reply string) []tasks.Task {
	byID := make(map[int64]tasks.Task, len(list))
	for _, t := range list {
		byID[t.ID] = t
	}
	out := make([]tasks.Task, 0, len(list))
	placed := make(map[int64]bool, len(list))
	for _, raw := range idPattern.FindAllString(reply, -1) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if t, ok := byID[id]; ok && !placed[id] {
			out = append(out, t)
			placed[id] = true
		}
	}
	for _, t := range list {
		if !placed[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) Rerank(ctx context.Context, user identity.User, list []tasks.Task) []tasks.Task {
	if len(list) == 0 {
		return list
	}
	reply, err := s.LLM.Complete(ctx, rerankPrompt(user, list))
	if err != nil {
		s.Log.Warn("task re-ranking unavailable", zap.Int("tasks", len(list)), zap.Error(err))
		return list
	}
	return ApplyOrder(list, reply)
}

func (s *Service) Patterns(ctx context.Context, user identity.User, history []analytics.DailyStats) []Insight {
	if len(history) == 0 {
		return []Insight{}
	}
	statsJSON, err := json.Marshal(history)
	if err != nil {
		statsJSON = []byte("[]")
	}
	reply, err := s.LLM.Complete(ctx, patternPrompt(user, string(statsJSON)))
	if err != nil || reply == "" {
		s.Log.Warn("pattern analysis unavailable", zap.Int("days", len(history)), zap.Error(err))
		return []Insight{}
	}
	return []Insight{{Type: PatternSummaryType, Description: reply, CreatedAt: s.Now()}}
}
