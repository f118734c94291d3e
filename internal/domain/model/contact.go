package model

import "time"

// Circle — круг общения контакта.
type Circle string

const (
	CircleInner        Circle = "inner"
	CircleClose        Circle = "close"
	CircleRegular      Circle = "regular"
	CircleAcquaintance Circle = "acquaintance"
)

// Cadence — желаемая периодичность общения с контактом.
type Cadence string

const (
	CadenceWeekly    Cadence = "weekly"
	CadenceBiweekly  Cadence = "biweekly"
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceYearly    Cadence = "yearly"
)

// Contact — контакт пользователя из снимка данных.
type Contact struct {
	ID            string
	UserID        string
	Name          string
	Circle        Circle
	Cadence       *Cadence
	LastContactAt *time.Time
}

// Group — пользовательская группа контактов.
type Group struct {
	ID   string
	Name string
}

// Interaction — совместное взаимодействие (встреча, звонок).
type Interaction struct {
	ID             string
	OccurredAt     time.Time
	ParticipantIDs []string
}

// VoiceNote — голосовая заметка с упомянутыми контактами.
type VoiceNote struct {
	ID                  string
	MentionedContactIDs []string
}

// Snapshot — снимок данных пользователя для генерации рекомендаций.
// Снимок только читается: группы, теги, заметки принадлежат CRUD-сервису.
type Snapshot struct {
	UserID   string
	Contacts []Contact
	Groups   []Group
	// GroupMembers — группа → контакты.
	GroupMembers map[string][]string
	// ContactTags — контакт → теги.
	ContactTags  map[string][]string
	VoiceNotes   []VoiceNote
	Interactions []Interaction
}
