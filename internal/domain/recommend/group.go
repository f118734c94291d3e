package recommend

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// Баллы и ограничения факторов общего контекста.
const (
	groupPoints       = 10
	groupCap          = 30
	tagPoints         = 5
	tagCap            = 30
	coMentionPoints   = 5
	coMentionCap      = 25
	interactionPoints = 5
	interactionCap    = 15

	// EligibleScore — минимальный балл общего контекста группового кандидата.
	EligibleScore = 50
	// InteractionWindow — окно учёта совместных взаимодействий.
	InteractionWindow = 90 * 24 * time.Hour
)

// Index — индекс снимка для быстрого вычисления общего контекста.
type Index struct {
	contacts     map[string]model.Contact
	groupNames   map[string]string
	groups       map[string]map[string]bool // контакт → группы
	tags         map[string]map[string]bool // контакт → теги
	notes        map[string]map[string]bool // контакт → заметки
	interactions map[string]map[string]bool // контакт → недавние взаимодействия
}

// NewIndex строит индекс по снимку. Учитываются взаимодействия
// не старше InteractionWindow относительно now.
func NewIndex(snap *model.Snapshot, now time.Time) *Index {
	ix := &Index{
		contacts:     make(map[string]model.Contact, len(snap.Contacts)),
		groupNames:   make(map[string]string, len(snap.Groups)),
		groups:       make(map[string]map[string]bool),
		tags:         make(map[string]map[string]bool),
		notes:        make(map[string]map[string]bool),
		interactions: make(map[string]map[string]bool),
	}

	for _, c := range snap.Contacts {
		ix.contacts[c.ID] = c
	}
	for _, g := range snap.Groups {
		ix.groupNames[g.ID] = g.Name
	}
	for groupID, members := range snap.GroupMembers {
		for _, cid := range members {
			addTo(ix.groups, cid, groupID)
		}
	}
	for cid, tags := range snap.ContactTags {
		for _, tag := range tags {
			addTo(ix.tags, cid, tag)
		}
	}
	for _, note := range snap.VoiceNotes {
		for _, cid := range note.MentionedContactIDs {
			addTo(ix.notes, cid, note.ID)
		}
	}
	cutoff := now.Add(-InteractionWindow)
	for _, in := range snap.Interactions {
		if in.OccurredAt.Before(cutoff) || in.OccurredAt.After(now) {
			continue
		}
		for _, cid := range in.ParticipantIDs {
			addTo(ix.interactions, cid, in.ID)
		}
	}

	return ix
}

func addTo(m map[string]map[string]bool, key, val string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]bool)
		m[key] = set
	}
	set[val] = true
}

// Contact возвращает контакт из снимка.
func (ix *Index) Contact(id string) (model.Contact, bool) {
	c, ok := ix.contacts[id]
	return c, ok
}

// Name возвращает имя контакта или его id.
func (ix *Index) Name(id string) string {
	if c, ok := ix.contacts[id]; ok && c.Name != "" {
		return c.Name
	}
	return id
}

// SignalCount — сколько сигналов общего контекста есть у контакта.
func (ix *Index) SignalCount(id string) int {
	return len(ix.groups[id]) + len(ix.tags[id]) + len(ix.notes[id]) + len(ix.interactions[id])
}

// SharedContext вычисляет общий контекст для 2–3 контактов.
func (ix *Index) SharedContext(ids []string) model.SharedContext {
	groupIDs := intersect(ix.groups, ids)
	groupNames := make([]string, 0, len(groupIDs))
	for _, gid := range groupIDs {
		if name, ok := ix.groupNames[gid]; ok && name != "" {
			groupNames = append(groupNames, name)
		} else {
			groupNames = append(groupNames, gid)
		}
	}
	sort.Strings(groupNames)

	tags := intersect(ix.tags, ids)
	notes := intersect(ix.notes, ids)
	interactions := intersect(ix.interactions, ids)

	f := model.SharedContextFactors{
		Groups:       capped(len(groupIDs), groupPoints, groupCap),
		Tags:         capped(len(tags), tagPoints, tagCap),
		CoMentions:   capped(len(notes), coMentionPoints, coMentionCap),
		Interactions: capped(len(interactions), interactionPoints, interactionCap),
	}

	score := f.Groups + f.Tags + f.CoMentions + f.Interactions
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return model.SharedContext{
		Score:              score,
		CommonGroups:       groupNames,
		SharedTags:         tags,
		CoMentionedNotes:   notes,
		RecentInteractions: interactions,
		Factors:            f,
	}
}

// Eligible — достаточно ли общего контекста для группового предложения.
func Eligible(sc model.SharedContext) bool {
	return sc.Score >= EligibleScore
}

func capped(n, points, limit int) int {
	v := n * points
	if v > limit {
		return limit
	}
	return v
}

// intersect возвращает отсортированное пересечение множеств всех ids.
func intersect(m map[string]map[string]bool, ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	// Начинаем с наименьшего множества
	smallest := m[ids[0]]
	for _, id := range ids[1:] {
		if len(m[id]) < len(smallest) {
			smallest = m[id]
		}
	}

	result := []string{}
	for val := range smallest {
		inAll := true
		for _, id := range ids {
			if !m[id][val] {
				inAll = false
				break
			}
		}
		if inAll {
			result = append(result, val)
		}
	}
	sort.Strings(result)
	return result
}

// GroupReasoning формирует текст обоснования группового предложения.
func GroupReasoning(names []string, sc model.SharedContext) string {
	var parts []string
	if len(sc.CommonGroups) > 0 {
		parts = append(parts, "общие группы: "+strings.Join(sc.CommonGroups, ", "))
	}
	if len(sc.SharedTags) > 0 {
		parts = append(parts, "общие интересы: "+strings.Join(sc.SharedTags, ", "))
	}
	if n := len(sc.CoMentionedNotes); n > 0 {
		parts = append(parts, fmt.Sprintf("упомянуты вместе в заметках: %d", n))
	}
	if n := len(sc.RecentInteractions); n > 0 {
		parts = append(parts, fmt.Sprintf("совместных встреч за 90 дней: %d", n))
	}

	head := "Встреча: " + strings.Join(names, ", ")
	if len(parts) == 0 {
		return head
	}
	return head + " (" + strings.Join(parts, "; ") + ")"
}

// IndividualReasoning формирует текст обоснования индивидуального предложения.
func IndividualReasoning(c model.Contact, now time.Time) string {
	cadence := "не задана"
	if c.Cadence != nil {
		cadence = string(*c.Cadence)
	}
	name := c.Name
	if name == "" {
		name = c.ID
	}
	if c.LastContactAt == nil {
		return fmt.Sprintf("С контактом %s ещё не было общения (периодичность: %s)", name, cadence)
	}
	days := int(DaysSince(c.LastContactAt, now, 0))
	return fmt.Sprintf("С контактом %s не общались %d дн. (периодичность: %s)", name, days, cadence)
}
