package alerts

import (
	"context"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// FCMChannel pushes alerts to mobile devices via Firebase Cloud
// Messaging. Without a credentials file it degrades to a mock that only
// logs, so paper setups need no Firebase project.
type FCMChannel struct {
	client *messaging.Client
	tokens []string
	mock   bool
}

// NewFCMChannel creates the channel from a service-account file
func NewFCMChannel(ctx context.Context, credentialsPath string, deviceTokens []string) (*FCMChannel, error) {
	if credentialsPath == "" {
		log.Warn().Msg("No FCM credentials path provided, using mock channel")
		return &FCMChannel{mock: true, tokens: deviceTokens}, nil
	}
	if _, err := os.Stat(credentialsPath); os.IsNotExist(err) {
		log.Warn().
			Str("credentials_path", credentialsPath).
			Msg("FCM credentials file not found, using mock channel")
		return &FCMChannel{mock: true, tokens: deviceTokens}, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}

	log.Info().Int("device_count", len(deviceTokens)).Msg("FCM alert channel initialized")
	return &FCMChannel{client: client, tokens: deviceTokens}, nil
}

func (f *FCMChannel) Name() string { return "fcm" }

func (f *FCMChannel) Send(ctx context.Context, alert Alert) error {
	if len(f.tokens) == 0 {
		return nil
	}

	if f.mock {
		log.Info().
			Str("backend", "fcm_mock").
			Str("title", alert.Title).
			Str("level", string(alert.Level)).
			Msg("Mock FCM alert (not actually sent)")
		return nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: f.tokens,
		Notification: &messaging.Notification{
			Title: alert.Title,
			Body:  alert.Message,
		},
		Data: map[string]string{
			"level": string(alert.Level),
			"mode":  alert.Mode,
		},
	}
	if alert.Level == LevelCritical {
		msg.Android = &messaging.AndroidConfig{Priority: "high"}
		msg.APNS = &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		}
	}

	response, err := f.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send FCM multicast: %w", err)
	}
	if response.FailureCount > 0 {
		return fmt.Errorf("FCM delivery failed for %d of %d devices", response.FailureCount, len(f.tokens))
	}
	return nil
}
