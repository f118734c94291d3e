package recommend

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// Ошибки операций над предложениями.
var (
	// ErrContactNotInSuggestion — контакта нет в предложении.
	ErrContactNotInSuggestion = errors.New("контакт не входит в предложение")
	// ErrNotGroupSuggestion — удалять участников можно только из группового предложения.
	ErrNotGroupSuggestion = errors.New("предложение не групповое")
)

// Candidate — кандидат в предложения до сохранения.
type Candidate struct {
	Type             model.SuggestionType
	ContactIDs       []string
	TriggerType      model.TriggerType
	Priority         float64
	Reasoning        string
	SharedContext    *model.SharedContext
	ProposedTimeslot time.Time
}

// Params — параметры прогона генерации.
type Params struct {
	Now time.Time
	// Limit — максимум предложений в прогоне.
	Limit int
	// CandidateLimit — сколько контактов с наибольшим числом сигналов
	// участвуют в переборе групп.
	CandidateLimit int
	// Exclude — контакты, которые не предлагаются (например, отложенные).
	Exclude map[string]bool
}

// Generate строит сбалансированный набор кандидатов по снимку.
func Generate(snap *model.Snapshot, p Params) []Candidate {
	ix := NewIndex(snap, p.Now)

	var eligible []model.Contact
	for _, c := range snap.Contacts {
		if p.Exclude[c.ID] {
			continue
		}
		eligible = append(eligible, c)
	}

	candidates := make([]Candidate, 0, len(eligible))

	// Индивидуальные кандидаты — контакты с заданной периодичностью
	for _, c := range eligible {
		if c.Cadence == nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Type:             model.SuggestionIndividual,
			ContactIDs:       []string{c.ID},
			TriggerType:      model.TriggerTimebound,
			Priority:         IndividualPriority(c, p.Now),
			Reasoning:        IndividualReasoning(c, p.Now),
			ProposedTimeslot: ProposedTimeslot(model.TriggerTimebound, p.Now),
		})
	}

	candidates = append(candidates, groupCandidates(ix, eligible, p)...)

	return Balance(candidates, p.Limit)
}

// groupCandidates перебирает пары и тройки среди ограниченного пула контактов.
func groupCandidates(ix *Index, eligible []model.Contact, p Params) []Candidate {
	pool := make([]model.Contact, 0, len(eligible))
	for _, c := range eligible {
		if ix.SignalCount(c.ID) > 0 {
			pool = append(pool, c)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		si, sj := ix.SignalCount(pool[i].ID), ix.SignalCount(pool[j].ID)
		if si != sj {
			return si > sj
		}
		return pool[i].ID < pool[j].ID
	})
	if p.CandidateLimit > 0 && len(pool) > p.CandidateLimit {
		pool = pool[:p.CandidateLimit]
	}

	var result []Candidate
	add := func(members ...model.Contact) {
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.ID
		}
		sc := ix.SharedContext(ids)
		if !Eligible(sc) {
			return
		}
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = ix.Name(m.ID)
		}
		sort.Strings(ids)
		result = append(result, Candidate{
			Type:             model.SuggestionGroup,
			ContactIDs:       ids,
			TriggerType:      model.TriggerSharedActivity,
			Priority:         GroupPriority(members, sc.Score, p.Now),
			Reasoning:        GroupReasoning(names, sc),
			SharedContext:    &sc,
			ProposedTimeslot: ProposedTimeslot(model.TriggerSharedActivity, p.Now),
		})
	}

	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			add(pool[i], pool[j])
			for k := j + 1; k < len(pool); k++ {
				add(pool[i], pool[j], pool[k])
			}
		}
	}
	return result
}

// Balance сортирует кандидатов по приоритету и жадно отбирает их так,
// чтобы ни один контакт не встречался дважды. limit ≤ 0 — без ограничения.
func Balance(candidates []Candidate, limit int) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Type != b.Type {
			return a.Type == model.SuggestionGroup
		}
		return strings.Join(a.ContactIDs, ",") < strings.Join(b.ContactIDs, ",")
	})

	claimed := make(map[string]bool)
	var result []Candidate
	for _, c := range sorted {
		if limit > 0 && len(result) >= limit {
			break
		}
		if hasDuplicates(c.ContactIDs) {
			continue
		}
		free := true
		for _, id := range c.ContactIDs {
			if claimed[id] {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		for _, id := range c.ContactIDs {
			claimed[id] = true
		}
		result = append(result, c)
	}
	return result
}

func hasDuplicates(ids []string) bool {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}

// RemoveContact удаляет контакт из группового предложения.
// Если остался один контакт — предложение становится индивидуальным
// без общего контекста; иначе общий контекст пересчитывается по снимку.
func RemoveContact(s *model.Suggestion, contactID string, ix *Index, now time.Time) error {
	if s.Type != model.SuggestionGroup {
		return ErrNotGroupSuggestion
	}

	remaining := make([]string, 0, len(s.ContactIDs))
	found := false
	for _, id := range s.ContactIDs {
		if id == contactID {
			found = true
			continue
		}
		remaining = append(remaining, id)
	}
	if !found {
		return ErrContactNotInSuggestion
	}
	s.ContactIDs = remaining

	members := make([]model.Contact, 0, len(remaining))
	for _, id := range remaining {
		if c, ok := ix.Contact(id); ok {
			members = append(members, c)
		} else {
			members = append(members, model.Contact{ID: id})
		}
	}

	if len(remaining) == 1 {
		s.Type = model.SuggestionIndividual
		s.SharedContext = nil
		s.TriggerType = model.TriggerTimebound
		s.Priority = IndividualPriority(members[0], now)
		s.Reasoning = IndividualReasoning(members[0], now)
		return nil
	}

	sc := ix.SharedContext(remaining)
	names := make([]string, len(remaining))
	for i, id := range remaining {
		names[i] = ix.Name(id)
	}
	s.SharedContext = &sc
	s.Priority = GroupPriority(members, sc.Score, now)
	s.Reasoning = GroupReasoning(names, sc)
	return nil
}

// ProposedTimeslot предлагает время встречи: для timebound — завтра в 18:00 UTC,
// для shared_activity — ближайшая суббота в 11:00 UTC.
func ProposedTimeslot(trigger model.TriggerType, now time.Time) time.Time {
	u := now.UTC()
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	if trigger == model.TriggerSharedActivity {
		days := (int(time.Saturday) - int(day.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return day.AddDate(0, 0, days).Add(11 * time.Hour)
	}
	return day.AddDate(0, 0, 1).Add(18 * time.Hour)
}
