package google

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/repository"
	"github.com/bigkaa/syncengine/internal/service"
)

// primaryCalendar — календарь, изменения которого отслеживаются.
const primaryCalendar = "primary"

// CalendarChannels — управление push-каналами Google Calendar
// (events.watch / channels.stop), реализует service.ChannelProvider.
type CalendarChannels struct {
	tokens   *tokenSource
	endpoint string
	logger   *slog.Logger
}

// NewCalendarChannels создаёт провайдер каналов. endpoint — базовый URL
// Calendar API (пустой — продуктивный адрес Google).
func NewCalendarChannels(cfg Config, tokens repository.TokenStoreRepository, endpoint string, logger *slog.Logger) *CalendarChannels {
	return &CalendarChannels{
		tokens:   newTokenSource(cfg, tokens),
		endpoint: endpoint,
		logger:   logger.With(slog.String("component", "google_calendar")),
	}
}

// calendarService создаёт клиент Calendar API от имени пользователя.
func (c *CalendarChannels) calendarService(ctx context.Context, userID string) (*calendar.Service, error) {
	client, err := c.tokens.httpClient(ctx, userID, model.IntegrationGoogleCalendar)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("создание клиента Calendar API: %w", err)
	}
	return srv, nil
}

// Watch создаёт канал уведомлений об изменениях событий основного календаря.
func (c *CalendarChannels) Watch(ctx context.Context, req service.WatchRequest) (*model.Channel, error) {
	if req.IntegrationType != model.IntegrationGoogleCalendar {
		return nil, fmt.Errorf("%w: %s", service.ErrPushUnsupported, req.IntegrationType)
	}
	srv, err := c.calendarService(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	ch := &calendar.Channel{
		Id:      req.ChannelID,
		Type:    "web_hook",
		Address: req.Address,
		Token:   req.Token,
	}
	if req.TTL > 0 {
		ch.Params = map[string]string{"ttl": fmt.Sprintf("%d", int64(req.TTL.Seconds()))}
	}

	resp, err := srv.Events.Watch(primaryCalendar, ch).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("events.watch: %w", err)
	}

	result := &model.Channel{
		ChannelID:   resp.Id,
		ResourceID:  resp.ResourceId,
		ResourceURI: resp.ResourceUri,
	}
	if result.ChannelID == "" {
		result.ChannelID = req.ChannelID
	}
	if resp.Expiration > 0 {
		result.Expiration = time.UnixMilli(resp.Expiration).UTC()
	} else {
		result.Expiration = time.Now().Add(req.TTL).UTC()
	}

	c.logger.Debug("Канал Calendar создан",
		slog.String("user_id", req.UserID),
		slog.String("channel_id", result.ChannelID),
		slog.String("resource_id", result.ResourceID),
	)
	return result, nil
}

// Stop останавливает канал.
func (c *CalendarChannels) Stop(ctx context.Context, sub *model.WebhookSubscription) error {
	srv, err := c.calendarService(ctx, sub.UserID)
	if err != nil {
		return err
	}
	err = srv.Channels.Stop(&calendar.Channel{
		Id:         sub.ChannelID,
		ResourceId: sub.ResourceID,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("channels.stop: %w", err)
	}
	return nil
}
