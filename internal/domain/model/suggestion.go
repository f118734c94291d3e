package model

import (
	"fmt"
	"time"
)

// SuggestionType — индивидуальное или групповое предложение.
type SuggestionType string

const (
	SuggestionIndividual SuggestionType = "individual"
	SuggestionGroup      SuggestionType = "group"
)

// TriggerType — что послужило поводом для предложения.
type TriggerType string

const (
	TriggerSharedActivity TriggerType = "shared_activity"
	TriggerTimebound      TriggerType = "timebound"
)

// SuggestionStatus — статус предложения.
type SuggestionStatus string

const (
	SuggestionPending   SuggestionStatus = "pending"
	SuggestionAccepted  SuggestionStatus = "accepted"
	SuggestionDismissed SuggestionStatus = "dismissed"
	SuggestionSnoozed   SuggestionStatus = "snoozed"
)

// ParseSuggestionStatus проверяет строку и возвращает SuggestionStatus.
func ParseSuggestionStatus(s string) (SuggestionStatus, error) {
	switch st := SuggestionStatus(s); st {
	case SuggestionPending, SuggestionAccepted, SuggestionDismissed, SuggestionSnoozed:
		return st, nil
	default:
		return "", fmt.Errorf("недопустимый статус %q, допустимые: pending, accepted, dismissed, snoozed", s)
	}
}

// SharedContext — общий контекст участников группового предложения.
type SharedContext struct {
	// Score — итоговый балл совместимости [0, 100].
	Score              int      `json:"score"`
	CommonGroups       []string `json:"commonGroups"`
	SharedTags         []string `json:"sharedTags"`
	CoMentionedNotes   []string `json:"coMentionedNotes"`
	RecentInteractions []string `json:"recentInteractions"`
	// Factors — вклад каждого фактора в Score после ограничения.
	Factors SharedContextFactors `json:"factors"`
}

// SharedContextFactors — баллы отдельных факторов.
type SharedContextFactors struct {
	Groups       int `json:"groups"`
	Tags         int `json:"tags"`
	CoMentions   int `json:"coMentions"`
	Interactions int `json:"interactions"`
}

// Suggestion — предложение пообщаться с одним или несколькими контактами.
type Suggestion struct {
	ID               string
	UserID           string
	RunID            string
	Type             SuggestionType
	ContactIDs       []string
	ProposedTimeslot time.Time
	TriggerType      TriggerType
	Reasoning        string
	Status           SuggestionStatus
	Priority         float64
	SharedContext    *SharedContext
	SnoozedUntil     *time.Time
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
