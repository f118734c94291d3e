// recommendation.go — сервис рекомендаций: генерация предложений по снимку
// данных пользователя и жизненный цикл предложений.
//
// Переходы статусов:
//
//	pending → accepted | dismissed | snoozed
//	snoozed → pending | accepted | dismissed
//
// accepted и dismissed — конечные статусы.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/domain/recommend"
	"github.com/bigkaa/syncengine/internal/repository"
)

// suggestionTransitions — допустимые переходы статусов предложения.
var suggestionTransitions = map[model.SuggestionStatus]map[model.SuggestionStatus]bool{
	model.SuggestionPending: {
		model.SuggestionAccepted:  true,
		model.SuggestionDismissed: true,
		model.SuggestionSnoozed:   true,
	},
	model.SuggestionSnoozed: {
		model.SuggestionPending:   true,
		model.SuggestionAccepted:  true,
		model.SuggestionDismissed: true,
	},
}

// RecommendationConfig — параметры генерации рекомендаций.
type RecommendationConfig struct {
	PerRun         int
	CandidateLimit int
	Interval       time.Duration
	Concurrency    int
}

// RecommendationService — генерация и жизненный цикл предложений.
type RecommendationService struct {
	suggestions repository.SuggestionRepository
	snapshots   repository.SnapshotRepository
	cfg         RecommendationConfig
	logger      *slog.Logger
	now         func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecommendationService создаёт сервис рекомендаций.
func NewRecommendationService(
	suggestions repository.SuggestionRepository,
	snapshots repository.SnapshotRepository,
	cfg RecommendationConfig,
	logger *slog.Logger,
) *RecommendationService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &RecommendationService{
		suggestions: suggestions,
		snapshots:   snapshots,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "recommendation")),
		now:         time.Now,
	}
}

// Generate строит новый набор предложений пользователя и заменяет им
// прежние ожидающие предложения. Контакты из действующих отложенных
// предложений не предлагаются.
func (s *RecommendationService) Generate(ctx context.Context, userID string, now time.Time) ([]*model.Suggestion, error) {
	start := time.Now()
	defer func() { suggestionRunDuration.Observe(time.Since(start).Seconds()) }()

	snap, err := s.snapshots.Load(ctx, userID, now.Add(-recommend.InteractionWindow))
	if err != nil {
		return nil, fmt.Errorf("загрузка снимка пользователя: %w", err)
	}
	snoozed, err := s.suggestions.SnoozedContacts(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("загрузка отложенных контактов: %w", err)
	}

	candidates := recommend.Generate(snap, recommend.Params{
		Now:            now,
		Limit:          s.cfg.PerRun,
		CandidateLimit: s.cfg.CandidateLimit,
		Exclude:        snoozed,
	})

	runID := uuid.NewString()
	result := make([]*model.Suggestion, 0, len(candidates))
	for _, c := range candidates {
		result = append(result, &model.Suggestion{
			ID:               uuid.NewString(),
			UserID:           userID,
			RunID:            runID,
			Type:             c.Type,
			ContactIDs:       c.ContactIDs,
			ProposedTimeslot: c.ProposedTimeslot,
			TriggerType:      c.TriggerType,
			Reasoning:        c.Reasoning,
			Status:           model.SuggestionPending,
			Priority:         c.Priority,
			SharedContext:    c.SharedContext,
		})
		suggestionsGeneratedTotal.WithLabelValues(string(c.Type)).Inc()
	}

	if err := s.suggestions.ReplacePending(ctx, userID, result); err != nil {
		return nil, fmt.Errorf("сохранение предложений: %w", err)
	}

	s.logger.Debug("Предложения сгенерированы",
		slog.String("user_id", userID),
		slog.String("run_id", runID),
		slog.Int("contacts", len(snap.Contacts)),
		slog.Int("suggestions", len(result)),
	)
	return result, nil
}

// GenerateAll генерирует предложения для всех пользователей с контактами.
// Ошибка по одному пользователю не прерывает прогон остальных.
func (s *RecommendationService) GenerateAll(ctx context.Context, now time.Time) (int, error) {
	if n, err := s.suggestions.ResurfaceSnoozed(ctx, now); err != nil {
		s.logger.Error("Ошибка возврата отложенных предложений", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("Отложенные предложения возвращены", slog.Int("count", n))
	}

	users, err := s.snapshots.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("получение списка пользователей: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, userID := range users {
		g.Go(func() error {
			if _, err := s.Generate(gctx, userID, now); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Error("Ошибка генерации предложений",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(users), err
	}
	return len(users), nil
}

// Get возвращает предложение пользователя.
func (s *RecommendationService) Get(ctx context.Context, userID, id string) (*model.Suggestion, error) {
	sg, err := s.suggestions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: предложение %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("загрузка предложения: %w", err)
	}
	// Чужое предложение неотличимо от отсутствующего
	if sg.UserID != userID {
		return nil, fmt.Errorf("%w: предложение %s", ErrNotFound, id)
	}
	return sg, nil
}

// List возвращает предложения пользователя.
func (s *RecommendationService) List(ctx context.Context, userID string, status *model.SuggestionStatus, limit, offset int) ([]*model.Suggestion, error) {
	result, err := s.suggestions.List(ctx, userID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("получение предложений: %w", err)
	}
	return result, nil
}

// Accept принимает предложение.
func (s *RecommendationService) Accept(ctx context.Context, userID, id string) (*model.Suggestion, error) {
	return s.update(ctx, userID, id, func(sg *model.Suggestion) error {
		return transitionSuggestion(sg, model.SuggestionAccepted)
	})
}

// Dismiss отклоняет предложение.
func (s *RecommendationService) Dismiss(ctx context.Context, userID, id string) (*model.Suggestion, error) {
	return s.update(ctx, userID, id, func(sg *model.Suggestion) error {
		return transitionSuggestion(sg, model.SuggestionDismissed)
	})
}

// Snooze откладывает предложение до until.
func (s *RecommendationService) Snooze(ctx context.Context, userID, id string, until, now time.Time) (*model.Suggestion, error) {
	if !until.After(now) {
		return nil, fmt.Errorf("%w: snoozedUntil должен быть в будущем", ErrValidation)
	}
	return s.update(ctx, userID, id, func(sg *model.Suggestion) error {
		if err := transitionSuggestion(sg, model.SuggestionSnoozed); err != nil {
			return err
		}
		u := until.UTC()
		sg.SnoozedUntil = &u
		return nil
	})
}

// Resume возвращает отложенное предложение в pending.
func (s *RecommendationService) Resume(ctx context.Context, userID, id string) (*model.Suggestion, error) {
	return s.update(ctx, userID, id, func(sg *model.Suggestion) error {
		if err := transitionSuggestion(sg, model.SuggestionPending); err != nil {
			return err
		}
		sg.SnoozedUntil = nil
		return nil
	})
}

// RemoveContact удаляет контакт из группового предложения. Если остаётся
// один контакт, предложение становится индивидуальным.
func (s *RecommendationService) RemoveContact(ctx context.Context, userID, id, contactID string, now time.Time) (*model.Suggestion, error) {
	snap, err := s.snapshots.Load(ctx, userID, now.Add(-recommend.InteractionWindow))
	if err != nil {
		return nil, fmt.Errorf("загрузка снимка пользователя: %w", err)
	}
	ix := recommend.NewIndex(snap, now)

	return s.update(ctx, userID, id, func(sg *model.Suggestion) error {
		if sg.Status != model.SuggestionPending && sg.Status != model.SuggestionSnoozed {
			return fmt.Errorf("%w: предложение в статусе %s не изменяется", ErrInvalidTransition, sg.Status)
		}
		err := recommend.RemoveContact(sg, contactID, ix, now)
		switch {
		case errors.Is(err, recommend.ErrNotGroupSuggestion):
			return fmt.Errorf("%w: %v", ErrValidation, err)
		case errors.Is(err, recommend.ErrContactNotInSuggestion):
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return err
	})
}

// transitionSuggestion проверяет и выполняет смену статуса.
func transitionSuggestion(sg *model.Suggestion, target model.SuggestionStatus) error {
	if !suggestionTransitions[sg.Status][target] {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, sg.Status, target)
	}
	sg.Status = target
	if target != model.SuggestionSnoozed {
		sg.SnoozedUntil = nil
	}
	return nil
}

// update загружает предложение, применяет fn и сохраняет с CAS по version.
func (s *RecommendationService) update(ctx context.Context, userID, id string, fn func(sg *model.Suggestion) error) (*model.Suggestion, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		sg, err := s.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		from := sg.Status
		if err := fn(sg); err != nil {
			return nil, err
		}

		err = s.suggestions.Update(ctx, sg)
		if err == nil {
			s.logger.Info("Предложение изменено",
				slog.String("suggestion_id", id),
				slog.String("user_id", userID),
				slog.String("from", string(from)),
				slog.String("to", string(sg.Status)),
			)
			return sg, nil
		}
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			casConflictsTotal.WithLabelValues("suggestion").Inc()
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: предложение %s", ErrNotFound, id)
		default:
			return nil, fmt.Errorf("сохранение предложения: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: предложение %s", ErrConflict, id)
}

// Start запускает периодическую генерацию предложений.
func (s *RecommendationService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Генерация предложений запущена",
			slog.String("interval", s.cfg.Interval.String()),
		)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Генерация предложений остановлена")
				return
			case <-ticker.C:
				n, err := s.GenerateAll(ctx, s.now().UTC())
				if err != nil && ctx.Err() == nil {
					s.logger.Error("Ошибка генерации предложений", slog.String("error", err.Error()))
					continue
				}
				s.logger.Debug("Прогон генерации завершён", slog.Int("users", n))
			}
		}
	}()
}

// Stop останавливает генерацию и ждёт завершения прогона.
func (s *RecommendationService) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
