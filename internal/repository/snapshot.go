package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// SnapshotRepository — чтение данных CRUD-сервиса для рекомендаций.
// Таблицы принадлежат CRUD-сервису, репозиторий только читает.
type SnapshotRepository interface {
	// Load собирает снимок пользователя. Взаимодействия — не старше since.
	Load(ctx context.Context, userID string, since time.Time) (*model.Snapshot, error)
	// ListUserIDs возвращает пользователей, у которых есть контакты.
	ListUserIDs(ctx context.Context) ([]string, error)
}

type snapshotRepo struct {
	db DBTX
}

// NewSnapshotRepository создаёт репозиторий снимков.
func NewSnapshotRepository(db DBTX) SnapshotRepository {
	return &snapshotRepo{db: db}
}

func (r *snapshotRepo) Load(ctx context.Context, userID string, since time.Time) (*model.Snapshot, error) {
	snap := &model.Snapshot{
		UserID:       userID,
		GroupMembers: make(map[string][]string),
		ContactTags:  make(map[string][]string),
	}

	if err := r.loadContacts(ctx, snap); err != nil {
		return nil, err
	}
	if err := r.loadGroups(ctx, snap); err != nil {
		return nil, err
	}
	if err := r.loadTags(ctx, snap); err != nil {
		return nil, err
	}
	if err := r.loadVoiceNotes(ctx, snap); err != nil {
		return nil, err
	}
	if err := r.loadInteractions(ctx, snap, since); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *snapshotRepo) loadContacts(ctx context.Context, snap *model.Snapshot) error {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, name, circle, cadence, last_contact_at
		FROM contacts
		WHERE user_id = $1
		ORDER BY id`, snap.UserID)
	if err != nil {
		return fmt.Errorf("ошибка чтения контактов: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Circle, &c.Cadence, &c.LastContactAt); err != nil {
			return fmt.Errorf("ошибка сканирования контакта: %w", err)
		}
		snap.Contacts = append(snap.Contacts, c)
	}
	return rows.Err()
}

func (r *snapshotRepo) loadGroups(ctx context.Context, snap *model.Snapshot) error {
	rows, err := r.db.Query(ctx, `
		SELECT g.id, g.name, m.contact_id
		FROM contact_groups g
		LEFT JOIN contact_group_members m ON m.group_id = g.id
		WHERE g.user_id = $1
		ORDER BY g.id, m.contact_id`, snap.UserID)
	if err != nil {
		return fmt.Errorf("ошибка чтения групп: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var id, name string
		var contactID *string
		if err := rows.Scan(&id, &name, &contactID); err != nil {
			return fmt.Errorf("ошибка сканирования группы: %w", err)
		}
		if !seen[id] {
			seen[id] = true
			snap.Groups = append(snap.Groups, model.Group{ID: id, Name: name})
		}
		if contactID != nil {
			snap.GroupMembers[id] = append(snap.GroupMembers[id], *contactID)
		}
	}
	return rows.Err()
}

func (r *snapshotRepo) loadTags(ctx context.Context, snap *model.Snapshot) error {
	rows, err := r.db.Query(ctx, `
		SELECT t.contact_id, t.tag
		FROM contact_tags t
		JOIN contacts c ON c.id = t.contact_id
		WHERE c.user_id = $1
		ORDER BY t.contact_id, t.tag`, snap.UserID)
	if err != nil {
		return fmt.Errorf("ошибка чтения тегов: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var contactID, tag string
		if err := rows.Scan(&contactID, &tag); err != nil {
			return fmt.Errorf("ошибка сканирования тега: %w", err)
		}
		snap.ContactTags[contactID] = append(snap.ContactTags[contactID], tag)
	}
	return rows.Err()
}

func (r *snapshotRepo) loadVoiceNotes(ctx context.Context, snap *model.Snapshot) error {
	rows, err := r.db.Query(ctx, `
		SELECT note_id, array_agg(contact_id ORDER BY contact_id)
		FROM voice_note_mentions
		WHERE user_id = $1
		GROUP BY note_id
		ORDER BY note_id`, snap.UserID)
	if err != nil {
		return fmt.Errorf("ошибка чтения голосовых заметок: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n model.VoiceNote
		if err := rows.Scan(&n.ID, &n.MentionedContactIDs); err != nil {
			return fmt.Errorf("ошибка сканирования заметки: %w", err)
		}
		snap.VoiceNotes = append(snap.VoiceNotes, n)
	}
	return rows.Err()
}

func (r *snapshotRepo) loadInteractions(ctx context.Context, snap *model.Snapshot, since time.Time) error {
	rows, err := r.db.Query(ctx, `
		SELECT i.id, i.occurred_at, array_agg(p.contact_id ORDER BY p.contact_id)
		FROM interactions i
		JOIN interaction_participants p ON p.interaction_id = i.id
		WHERE i.user_id = $1 AND i.occurred_at >= $2
		GROUP BY i.id, i.occurred_at
		ORDER BY i.occurred_at DESC`, snap.UserID, since)
	if err != nil {
		return fmt.Errorf("ошибка чтения взаимодействий: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var in model.Interaction
		if err := rows.Scan(&in.ID, &in.OccurredAt, &in.ParticipantIDs); err != nil {
			return fmt.Errorf("ошибка сканирования взаимодействия: %w", err)
		}
		snap.Interactions = append(snap.Interactions, in)
	}
	return rows.Err()
}

func (r *snapshotRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT user_id FROM contacts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, id)
	}
	return result, rows.Err()
}
