package push

import (
	"testing"

	"github.com/sideshow/apns2"
)

func TestAPNSBuildNotification(t *testing.T) {
	provider := &APNSProvider{topic: "com.example.ridehail"}

	notification := provider.buildNotification(&NotificationRequest{
		Token:    "device-token",
		Title:    "New ride request",
		Body:     "A passenger nearby requested a ride",
		Data:     map[string]string{"event": "ride_request", "ride_id": "abc123"},
		Priority: "high",
	})

	if notification.DeviceToken != "device-token" {
		t.Errorf("device token = %q", notification.DeviceToken)
	}
	if notification.Topic != "com.example.ridehail" {
		t.Errorf("topic = %q", notification.Topic)
	}
	if notification.Priority != apns2.PriorityHigh {
		t.Errorf("priority = %d, want high", notification.Priority)
	}

	payload, ok := notification.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("payload is %T", notification.Payload)
	}
	if payload["ride_id"] != "abc123" {
		t.Errorf("custom data missing: %v", payload)
	}

	aps, ok := payload["aps"].(map[string]interface{})
	if !ok {
		t.Fatalf("aps is %T", payload["aps"])
	}
	alert, ok := aps["alert"].(map[string]interface{})
	if !ok {
		t.Fatalf("alert is %T", aps["alert"])
	}
	if alert["title"] != "New ride request" || alert["body"] != "A passenger nearby requested a ride" {
		t.Errorf("alert = %v", alert)
	}
}

func TestAPNSBuildNotification_DefaultsToLowPriority(t *testing.T) {
	provider := &APNSProvider{topic: "com.example.ridehail"}

	notification := provider.buildNotification(&NotificationRequest{Token: "t", Body: "b"})
	if notification.Priority != apns2.PriorityLow {
		t.Errorf("priority = %d, want low", notification.Priority)
	}
}

func TestFCMBuildMessage(t *testing.T) {
	provider := &FCMProvider{}

	message := provider.buildMessage(&NotificationRequest{
		Token:    "device-token",
		Title:    "Ride cancelled",
		Body:     "Your ride was cancelled",
		Data:     map[string]string{"event": "ride_cancelled"},
		Priority: "high",
	})

	if message.Token != "device-token" {
		t.Errorf("token = %q", message.Token)
	}
	if message.Notification == nil || message.Notification.Title != "Ride cancelled" {
		t.Errorf("notification = %+v", message.Notification)
	}
	if message.Data["event"] != "ride_cancelled" {
		t.Errorf("data = %v", message.Data)
	}
	if message.Android == nil || message.Android.Priority != "high" {
		t.Errorf("android config = %+v", message.Android)
	}
}

func TestFCMBuildMessage_DataOnly(t *testing.T) {
	provider := &FCMProvider{}

	message := provider.buildMessage(&NotificationRequest{
		Token: "device-token",
		Data:  map[string]string{"event": "driver_location_update"},
	})

	if message.Notification != nil {
		t.Errorf("data-only message carries a notification: %+v", message.Notification)
	}
	if message.Android != nil {
		t.Errorf("data-only message carries android config: %+v", message.Android)
	}
}
