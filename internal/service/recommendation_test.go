package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

func weekly() *model.Cadence {
	c := model.CadenceWeekly
	return &c
}

func newRecommendationEnv() (*RecommendationService, *memSuggestionRepo, *memSnapshotRepo) {
	suggestions := newMemSuggestionRepo()
	snapshots := &memSnapshotRepo{snaps: map[string]*model.Snapshot{
		"user-1": {
			UserID: "user-1",
			Contacts: []model.Contact{
				{ID: "anna", Name: "Анна", Circle: model.CircleInner, Cadence: weekly(), LastContactAt: ptr(t0.Add(-10 * 24 * time.Hour))},
				{ID: "boris", Name: "Борис", Circle: model.CircleClose, Cadence: weekly(), LastContactAt: ptr(t0.Add(-3 * 24 * time.Hour))},
				{ID: "vera", Name: "Вера", Circle: model.CircleClose, Cadence: weekly()},
			},
		},
		"user-2": {
			UserID:   "user-2",
			Contacts: []model.Contact{{ID: "gleb", Name: "Глеб", Circle: model.CircleInner, Cadence: weekly()}},
		},
	}}
	svc := NewRecommendationService(suggestions, snapshots, RecommendationConfig{
		PerRun: 10, CandidateLimit: 40, Interval: time.Hour, Concurrency: 2,
	}, testLogger())
	return svc, suggestions, snapshots
}

// seedSuggestion сохраняет предложение напрямую в репозиторий.
func seedSuggestion(repo *memSuggestionRepo, s model.Suggestion) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if s.Version == 0 {
		s.Version = 1
	}
	repo.rows[s.ID] = s
}

func TestGenerate_ReplacesPendingAndSkipsSnoozed(t *testing.T) {
	svc, repo, _ := newRecommendationEnv()
	ctx := context.Background()

	seedSuggestion(repo, model.Suggestion{
		ID: "old", UserID: "user-1", Type: model.SuggestionIndividual,
		ContactIDs: []string{"boris"}, Status: model.SuggestionPending,
	})
	seedSuggestion(repo, model.Suggestion{
		ID: "snz", UserID: "user-1", Type: model.SuggestionIndividual,
		ContactIDs: []string{"anna"}, Status: model.SuggestionSnoozed, SnoozedUntil: ptr(t0.Add(24 * time.Hour)),
	})
	seedSuggestion(repo, model.Suggestion{
		ID: "acc", UserID: "user-1", Type: model.SuggestionIndividual,
		ContactIDs: []string{"vera"}, Status: model.SuggestionAccepted,
	})

	got, err := svc.Generate(ctx, "user-1", t0)
	if err != nil {
		t.Fatalf("Generate ошибка: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("сгенерировано %d предложений, ожидалось 2", len(got))
	}
	runID := got[0].RunID
	for _, s := range got {
		if s.Status != model.SuggestionPending {
			t.Errorf("статус = %s, ожидается pending", s.Status)
		}
		if s.RunID != runID {
			t.Error("предложения одного прогона должны иметь общий run_id")
		}
		for _, id := range s.ContactIDs {
			if id == "anna" {
				t.Error("контакт из отложенного предложения не должен предлагаться")
			}
		}
	}
	if got[0].Priority < got[1].Priority {
		t.Error("предложения должны идти по убыванию приоритета")
	}

	if _, err := repo.GetByID(ctx, "old"); err == nil {
		t.Error("прежнее ожидающее предложение должно быть заменено")
	}
	for _, id := range []string{"snz", "acc"} {
		if _, err := repo.GetByID(ctx, id); err != nil {
			t.Errorf("предложение %s не должно удаляться: %v", id, err)
		}
	}
}

func TestGenerateAll(t *testing.T) {
	svc, repo, _ := newRecommendationEnv()
	seedSuggestion(repo, model.Suggestion{
		ID: "snz", UserID: "user-2", Type: model.SuggestionIndividual,
		ContactIDs: []string{"gleb"}, Status: model.SuggestionSnoozed, SnoozedUntil: ptr(t0.Add(-time.Minute)),
	})

	n, err := svc.GenerateAll(context.Background(), t0)
	if err != nil {
		t.Fatalf("GenerateAll ошибка: %v", err)
	}
	if n != 2 {
		t.Errorf("обработано пользователей: %d, ожидалось 2", n)
	}

	pending := model.SuggestionPending
	list, _ := repo.List(context.Background(), "user-2", &pending, 10, 0)
	// Отложенное предложение с истёкшим сроком вернулось в pending и
	// заменено свежим прогоном.
	if len(list) != 1 || list[0].ID == "snz" {
		t.Errorf("user-2: ожидалось одно новое предложение, получено %+v", list)
	}
	list, _ = repo.List(context.Background(), "user-1", &pending, 10, 0)
	if len(list) != 3 {
		t.Errorf("user-1: %d предложений, ожидалось 3", len(list))
	}
}

func TestSuggestionTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    model.SuggestionStatus
		action  string
		want    model.SuggestionStatus
		wantErr error
	}{
		{"pending → accepted", model.SuggestionPending, "accept", model.SuggestionAccepted, nil},
		{"pending → dismissed", model.SuggestionPending, "dismiss", model.SuggestionDismissed, nil},
		{"pending → snoozed", model.SuggestionPending, "snooze", model.SuggestionSnoozed, nil},
		{"snoozed → pending", model.SuggestionSnoozed, "resume", model.SuggestionPending, nil},
		{"snoozed → accepted", model.SuggestionSnoozed, "accept", model.SuggestionAccepted, nil},
		{"snoozed → dismissed", model.SuggestionSnoozed, "dismiss", model.SuggestionDismissed, nil},
		{"pending → resume", model.SuggestionPending, "resume", "", ErrInvalidTransition},
		{"accepted → dismissed", model.SuggestionAccepted, "dismiss", "", ErrInvalidTransition},
		{"dismissed → accepted", model.SuggestionDismissed, "accept", "", ErrInvalidTransition},
		{"accepted → snoozed", model.SuggestionAccepted, "snooze", "", ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newRecommendationEnv()
			ctx := context.Background()
			s := model.Suggestion{
				ID: "s-1", UserID: "user-1", Type: model.SuggestionIndividual,
				ContactIDs: []string{"anna"}, Status: tt.from,
			}
			if tt.from == model.SuggestionSnoozed {
				s.SnoozedUntil = ptr(t0.Add(time.Hour))
			}
			seedSuggestion(repo, s)

			var got *model.Suggestion
			var err error
			switch tt.action {
			case "accept":
				got, err = svc.Accept(ctx, "user-1", "s-1")
			case "dismiss":
				got, err = svc.Dismiss(ctx, "user-1", "s-1")
			case "snooze":
				got, err = svc.Snooze(ctx, "user-1", "s-1", t0.Add(48*time.Hour), t0)
			case "resume":
				got, err = svc.Resume(ctx, "user-1", "s-1")
			}

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ошибка = %v, ожидается %v", err, tt.wantErr)
				}
				stored, _ := repo.GetByID(ctx, "s-1")
				if stored.Status != tt.from {
					t.Errorf("статус изменился на %s при недопустимом переходе", stored.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got.Status != tt.want {
				t.Errorf("статус = %s, ожидается %s", got.Status, tt.want)
			}
			if tt.want == model.SuggestionSnoozed {
				if got.SnoozedUntil == nil || !got.SnoozedUntil.Equal(t0.Add(48*time.Hour)) {
					t.Errorf("SnoozedUntil = %v", got.SnoozedUntil)
				}
			} else if got.SnoozedUntil != nil {
				t.Error("SnoozedUntil должен сбрасываться вне статуса snoozed")
			}
			if got.Version != 2 {
				t.Errorf("Version = %d, ожидается 2", got.Version)
			}
		})
	}
}

func TestSnooze_RequiresFuture(t *testing.T) {
	svc, repo, _ := newRecommendationEnv()
	seedSuggestion(repo, model.Suggestion{
		ID: "s-1", UserID: "user-1", Type: model.SuggestionIndividual,
		ContactIDs: []string{"anna"}, Status: model.SuggestionPending,
	})

	for _, until := range []time.Time{t0, t0.Add(-time.Hour)} {
		if _, err := svc.Snooze(context.Background(), "user-1", "s-1", until, t0); !errors.Is(err, ErrValidation) {
			t.Errorf("until=%v: ошибка = %v, ожидается ErrValidation", until, err)
		}
	}
}

func TestGet_ForeignSuggestionNotFound(t *testing.T) {
	svc, repo, _ := newRecommendationEnv()
	seedSuggestion(repo, model.Suggestion{
		ID: "s-1", UserID: "user-2", Type: model.SuggestionIndividual,
		ContactIDs: []string{"gleb"}, Status: model.SuggestionPending,
	})

	if _, err := svc.Get(context.Background(), "user-1", "s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("чужое предложение: %v, ожидается ErrNotFound", err)
	}
	if _, err := svc.Accept(context.Background(), "user-1", "s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("принятие чужого предложения: %v, ожидается ErrNotFound", err)
	}
	if _, err := svc.Get(context.Background(), "user-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("отсутствующее предложение: %v, ожидается ErrNotFound", err)
	}
}

func TestRemoveContact(t *testing.T) {
	ctx := context.Background()
	group := func(status model.SuggestionStatus) model.Suggestion {
		return model.Suggestion{
			ID: "g-1", UserID: "user-1", Type: model.SuggestionGroup,
			ContactIDs: []string{"anna", "boris"}, TriggerType: model.TriggerSharedActivity,
			Status: status, SharedContext: &model.SharedContext{Score: 40},
		}
	}

	t.Run("группа становится индивидуальной", func(t *testing.T) {
		svc, repo, _ := newRecommendationEnv()
		seedSuggestion(repo, group(model.SuggestionPending))

		got, err := svc.RemoveContact(ctx, "user-1", "g-1", "boris", t0)
		if err != nil {
			t.Fatalf("RemoveContact ошибка: %v", err)
		}
		if got.Type != model.SuggestionIndividual || len(got.ContactIDs) != 1 || got.ContactIDs[0] != "anna" {
			t.Errorf("результат: type=%s contacts=%v", got.Type, got.ContactIDs)
		}
		if got.SharedContext != nil {
			t.Error("у индивидуального предложения нет общего контекста")
		}
		if got.TriggerType != model.TriggerTimebound {
			t.Errorf("TriggerType = %s, ожидается timebound", got.TriggerType)
		}
	})

	t.Run("контакта нет в предложении", func(t *testing.T) {
		svc, repo, _ := newRecommendationEnv()
		seedSuggestion(repo, group(model.SuggestionPending))
		if _, err := svc.RemoveContact(ctx, "user-1", "g-1", "vera", t0); !errors.Is(err, ErrNotFound) {
			t.Errorf("ошибка = %v, ожидается ErrNotFound", err)
		}
	})

	t.Run("индивидуальное предложение", func(t *testing.T) {
		svc, repo, _ := newRecommendationEnv()
		seedSuggestion(repo, model.Suggestion{
			ID: "g-1", UserID: "user-1", Type: model.SuggestionIndividual,
			ContactIDs: []string{"anna"}, Status: model.SuggestionPending,
		})
		if _, err := svc.RemoveContact(ctx, "user-1", "g-1", "anna", t0); !errors.Is(err, ErrValidation) {
			t.Errorf("ошибка = %v, ожидается ErrValidation", err)
		}
	})

	t.Run("принятое предложение не меняется", func(t *testing.T) {
		svc, repo, _ := newRecommendationEnv()
		seedSuggestion(repo, group(model.SuggestionAccepted))
		if _, err := svc.RemoveContact(ctx, "user-1", "g-1", "boris", t0); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("ошибка = %v, ожидается ErrInvalidTransition", err)
		}
	})
}
