package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// SuggestionRepository — доступ к таблицам suggestions и suggestion_contacts.
type SuggestionRepository interface {
	// ReplacePending атомарно удаляет ожидающие предложения пользователя
	// и сохраняет новые предложения прогона.
	ReplacePending(ctx context.Context, userID string, suggestions []*model.Suggestion) error
	// GetByID возвращает предложение с контактами.
	GetByID(ctx context.Context, id string) (*model.Suggestion, error)
	// List возвращает предложения пользователя, опционально по статусу.
	List(ctx context.Context, userID string, status *model.SuggestionStatus, limit, offset int) ([]*model.Suggestion, error)
	// Update сохраняет предложение с CAS по version и переписывает состав контактов.
	Update(ctx context.Context, s *model.Suggestion) error
	// SnoozedContacts возвращает контакты из предложений, отложенных дольше now.
	SnoozedContacts(ctx context.Context, userID string, now time.Time) (map[string]bool, error)
	// ResurfaceSnoozed возвращает в pending предложения, срок откладывания которых истёк.
	ResurfaceSnoozed(ctx context.Context, now time.Time) (int, error)
}

type suggestionRepo struct {
	db DBTX
}

// NewSuggestionRepository создаёт репозиторий предложений.
func NewSuggestionRepository(db DBTX) SuggestionRepository {
	return &suggestionRepo{db: db}
}

// Контакты агрегируются в массив в порядке position.
const suggestionSelect = `
	SELECT s.id, s.user_id, s.run_id, s.type, s.proposed_timeslot, s.trigger_type,
		s.reasoning, s.status, s.priority, s.shared_context, s.snoozed_until,
		s.version, s.created_at, s.updated_at,
		COALESCE(array_agg(sc.contact_id ORDER BY sc.position)
			FILTER (WHERE sc.contact_id IS NOT NULL), '{}') AS contact_ids
	FROM suggestions s
	LEFT JOIN suggestion_contacts sc ON sc.suggestion_id = s.id`

func scanSuggestion(row pgx.Row) (*model.Suggestion, error) {
	s := &model.Suggestion{}
	var shared []byte
	err := row.Scan(
		&s.ID, &s.UserID, &s.RunID, &s.Type, &s.ProposedTimeslot, &s.TriggerType,
		&s.Reasoning, &s.Status, &s.Priority, &shared, &s.SnoozedUntil,
		&s.Version, &s.CreatedAt, &s.UpdatedAt, &s.ContactIDs,
	)
	if err != nil {
		return nil, err
	}
	if len(shared) > 0 {
		var sc model.SharedContext
		if err := json.Unmarshal(shared, &sc); err != nil {
			return nil, fmt.Errorf("декодирование shared_context: %w", err)
		}
		s.SharedContext = &sc
	}
	return s, nil
}

// encodeSharedContext сериализует общий контекст в JSONB (nil — NULL).
func encodeSharedContext(sc *model.SharedContext) ([]byte, error) {
	if sc == nil {
		return nil, nil
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("сериализация shared_context: %w", err)
	}
	return data, nil
}

func (r *suggestionRepo) ReplacePending(ctx context.Context, userID string, suggestions []*model.Suggestion) error {
	return inTx(ctx, r.db, func(q DBTX) error {
		if _, err := q.Exec(ctx,
			`DELETE FROM suggestions WHERE user_id = $1 AND status = 'pending'`, userID); err != nil {
			return fmt.Errorf("ошибка удаления ожидающих предложений: %w", err)
		}
		for _, s := range suggestions {
			if err := insertSuggestion(ctx, q, s); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertSuggestion(ctx context.Context, q DBTX, s *model.Suggestion) error {
	shared, err := encodeSharedContext(s.SharedContext)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO suggestions (id, user_id, run_id, type, proposed_timeslot, trigger_type,
			reasoning, status, priority, shared_context, snoozed_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING version, created_at, updated_at`

	err = q.QueryRow(ctx, query,
		s.ID, s.UserID, s.RunID, s.Type, s.ProposedTimeslot, s.TriggerType,
		s.Reasoning, s.Status, s.Priority, shared, s.SnoozedUntil,
	).Scan(&s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: предложение %s уже существует", ErrConflict, s.ID)
		}
		return fmt.Errorf("ошибка создания предложения: %w", err)
	}
	return insertSuggestionContacts(ctx, q, s)
}

func insertSuggestionContacts(ctx context.Context, q DBTX, s *model.Suggestion) error {
	for i, cid := range s.ContactIDs {
		_, err := q.Exec(ctx, `
			INSERT INTO suggestion_contacts (suggestion_id, contact_id, position)
			VALUES ($1, $2, $3)`, s.ID, cid, i)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: контакт %s повторяется в предложении", ErrConflict, cid)
			}
			return fmt.Errorf("ошибка сохранения контактов предложения: %w", err)
		}
	}
	return nil
}

func (r *suggestionRepo) GetByID(ctx context.Context, id string) (*model.Suggestion, error) {
	query := suggestionSelect + `
		WHERE s.id = $1
		GROUP BY s.id`

	s, err := scanSuggestion(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения предложения: %w", err)
	}
	return s, nil
}

func (r *suggestionRepo) List(ctx context.Context, userID string, status *model.SuggestionStatus, limit, offset int) ([]*model.Suggestion, error) {
	query := suggestionSelect + `
		WHERE s.user_id = $1 AND ($2::text IS NULL OR s.status = $2)
		GROUP BY s.id
		ORDER BY s.priority DESC, s.created_at DESC
		LIMIT $3 OFFSET $4`

	var st *string
	if status != nil {
		v := string(*status)
		st = &v
	}

	rows, err := r.db.Query(ctx, query, userID, st, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка предложений: %w", err)
	}
	defer rows.Close()

	var result []*model.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования предложения: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *suggestionRepo) Update(ctx context.Context, s *model.Suggestion) error {
	shared, err := encodeSharedContext(s.SharedContext)
	if err != nil {
		return err
	}

	return inTx(ctx, r.db, func(q DBTX) error {
		query := `
			UPDATE suggestions
			SET type = $3, trigger_type = $4, reasoning = $5, status = $6, priority = $7,
				shared_context = $8, snoozed_until = $9,
				version = version + 1, updated_at = now()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at`

		err := q.QueryRow(ctx, query,
			s.ID, s.Version, s.Type, s.TriggerType, s.Reasoning, s.Status, s.Priority,
			shared, s.SnoozedUntil,
		).Scan(&s.Version, &s.UpdatedAt)
		if err != nil {
			if err == pgx.ErrNoRows {
				var exists bool
				if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM suggestions WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
					return fmt.Errorf("ошибка проверки предложения: %w", err)
				}
				if !exists {
					return ErrNotFound
				}
				return ErrVersionConflict
			}
			return fmt.Errorf("ошибка обновления предложения: %w", err)
		}

		if _, err := q.Exec(ctx, `DELETE FROM suggestion_contacts WHERE suggestion_id = $1`, s.ID); err != nil {
			return fmt.Errorf("ошибка обновления контактов предложения: %w", err)
		}
		return insertSuggestionContacts(ctx, q, s)
	})
}

func (r *suggestionRepo) SnoozedContacts(ctx context.Context, userID string, now time.Time) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT sc.contact_id
		FROM suggestions s
		JOIN suggestion_contacts sc ON sc.suggestion_id = s.id
		WHERE s.user_id = $1 AND s.status = 'snoozed' AND s.snoozed_until > $2`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отложенных контактов: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования контакта: %w", err)
		}
		result[id] = true
	}
	return result, rows.Err()
}

func (r *suggestionRepo) ResurfaceSnoozed(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE suggestions
		SET status = 'pending', snoozed_until = NULL,
			version = version + 1, updated_at = now()
		WHERE status = 'snoozed' AND snoozed_until <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка возврата отложенных предложений: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
