package services

import (
	"context"
	"fmt"
	"time"

	"ridehail/internal/models"
	"ridehail/internal/utils"
	"ridehail/pkg/logger"
	"ridehail/pkg/push"
	"ridehail/pkg/websocket"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationService is the notification channel of the dispatch engine.
// Delivery is hub-first: a connected user gets the event over their websocket
// room; otherwise we fall back to a push notification when a device token is
// registered. Failures are logged with ride and user ids but never bubble up,
// so a dead channel can degrade matching without corrupting ride bookkeeping.
type NotificationService interface {
	NotifyUser(ctx context.Context, userID primitive.ObjectID, event string, data map[string]interface{})
	NotifyDrivers(ctx context.Context, event string, data map[string]interface{})
	BroadcastDriverLocation(ctx context.Context, driverID primitive.ObjectID, location models.Location)
}

type notificationService struct {
	hub    *websocket.Hub
	fcm    push.PushProvider
	apns   push.PushProvider
	cache  CacheService
	logger *logger.Logger
}

func NewNotificationService(hub *websocket.Hub, fcm, apns push.PushProvider, cache CacheService, log *logger.Logger) NotificationService {
	return &notificationService{
		hub:    hub,
		fcm:    fcm,
		apns:   apns,
		cache:  cache,
		logger: log,
	}
}

func (s *notificationService) NotifyUser(ctx context.Context, userID primitive.ObjectID, event string, data map[string]interface{}) {
	if s.hub != nil && s.hub.IsUserOnline(userID) {
		s.hub.SendToUser(userID, websocket.Message{
			Type:      event,
			UserID:    userID,
			Timestamp: time.Now().Unix(),
			Data:      data,
		})
		return
	}

	if err := s.sendPush(ctx, userID, event, data); err != nil {
		s.logger.WithUserID(userID).WithError(err).
			WithField("event", event).
			Warn("Notification delivery degraded")
	}
}

func (s *notificationService) NotifyDrivers(ctx context.Context, event string, data map[string]interface{}) {
	if s.hub == nil {
		s.logger.WithField("event", event).Warn("Driver broadcast skipped, hub not running")
		return
	}
	s.hub.SendToDrivers(websocket.Message{
		Type:      event,
		Timestamp: time.Now().Unix(),
		Data:      data,
	})
}

func (s *notificationService) BroadcastDriverLocation(ctx context.Context, driverID primitive.ObjectID, location models.Location) {
	if s.hub == nil {
		return
	}
	s.hub.SendLocationUpdate(driverID, map[string]interface{}{
		"event":     utils.EventDriverLocationUpdate,
		"driver_id": driverID.Hex(),
		"lat":       location.Latitude(),
		"lng":       location.Longitude(),
	})
}

func (s *notificationService) sendPush(ctx context.Context, userID primitive.ObjectID, event string, data map[string]interface{}) error {
	if s.cache == nil {
		return fmt.Errorf("no device token store configured")
	}

	token, err := s.cache.GetDeviceToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("device token lookup failed: %w", err)
	}
	if token == nil {
		return fmt.Errorf("user offline and no device token registered")
	}

	provider := s.fcm
	if token.Platform == "ios" {
		provider = s.apns
	}
	if provider == nil {
		return fmt.Errorf("no push provider configured for %s", token.Platform)
	}

	payload := make(map[string]string, len(data)+1)
	payload["event"] = event
	for k, v := range data {
		payload[k] = fmt.Sprintf("%v", v)
	}

	req := &push.NotificationRequest{
		Token: token.Token,
		Title: pushTitle(event),
		Body:  pushBody(event),
		Data:  payload,
	}
	// Offers and cancellations are time critical: an offer expires in one
	// window, so the push must not wait for a doze cycle.
	if event == utils.EventRideRequest || event == utils.EventRideCancelled {
		req.Priority = "high"
	}

	resp, err := provider.SendNotification(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("push rejected: %s", resp.Error)
	}
	return nil
}

func pushTitle(event string) string {
	switch event {
	case utils.EventRideRequest:
		return "New ride request"
	case utils.EventRideAccepted:
		return "Driver on the way"
	case utils.EventRideStatusUpdate:
		return "Ride update"
	case utils.EventRideCancelled:
		return "Ride cancelled"
	default:
		return "Ride update"
	}
}

func pushBody(event string) string {
	switch event {
	case utils.EventRideRequest:
		return "A passenger nearby requested a ride"
	case utils.EventRideAccepted:
		return "Your driver accepted the ride"
	case utils.EventRideCancelled:
		return "Your ride was cancelled"
	default:
		return "Open the app for details"
	}
}
