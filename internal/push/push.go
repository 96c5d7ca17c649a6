package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/pocketmoney/internal/model"
)

// ErrExpired is returned when the push service reports the subscription
// gone (410).
var ErrExpired = errors.New("push subscription expired")

// Payload is the JSON the service worker receives.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// SubscriptionStore is the persistence the push service needs.
type SubscriptionStore interface {
	CreatePushSubscription(ctx context.Context, s *model.PushSubscription) error
	ListPushSubscriptions(ctx context.Context, accountID int64) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id int64) error
	DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	// HTTPClient overrides the client used to reach push services.
	HTTPClient webpush.HTTPClient
}

// Service manages subscriptions and sends web push notifications.
type Service struct {
	cfg   Config
	store SubscriptionStore
}

func NewService(cfg Config, s SubscriptionStore) *Service {
	if cfg.Subscriber == "" {
		cfg.Subscriber = "mailto:noreply@pocketmoney.local"
	}
	return &Service{cfg: cfg, store: s}
}

// Enabled reports whether VAPID keys are configured.
func (s *Service) Enabled() bool {
	return s.cfg.VAPIDPublicKey != "" && s.cfg.VAPIDPrivateKey != ""
}

func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

type NewSubscription struct {
	AccountID  int64
	Endpoint   string
	P256dhKey  string
	AuthKey    string
	DeviceName string
}

// Subscribe stores a browser subscription. Re-subscribing the same endpoint
// refreshes its keys.
func (s *Service) Subscribe(ctx context.Context, n NewSubscription, now time.Time) (*model.PushSubscription, error) {
	if !strings.HasPrefix(n.Endpoint, "https://") && !strings.HasPrefix(n.Endpoint, "http://") {
		return nil, fmt.Errorf("%w: endpoint must be an http(s) URL", model.ErrInvalidInput)
	}
	if n.P256dhKey == "" || n.AuthKey == "" {
		return nil, fmt.Errorf("%w: p256dh and auth keys are required", model.ErrInvalidInput)
	}
	sub := &model.PushSubscription{
		AccountID:  n.AccountID,
		Endpoint:   n.Endpoint,
		P256dhKey:  n.P256dhKey,
		AuthKey:    n.AuthKey,
		DeviceName: n.DeviceName,
		CreatedAt:  now.UTC(),
	}
	if err := s.store.CreatePushSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) Unsubscribe(ctx context.Context, id int64) error {
	return s.store.DeletePushSubscription(ctx, id)
}

// Send delivers payload to one subscription.
func (s *Service) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.cfg.HTTPClient,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		Subscriber:      s.cfg.Subscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// GenerateVAPIDKeys returns a new base64url-encoded P-256 key pair.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return "", "", fmt.Errorf("convert public key: %w", err)
	}
	priv, err := key.ECDH()
	if err != nil {
		return "", "", fmt.Errorf("convert private key: %w", err)
	}

	publicKey = base64.RawURLEncoding.EncodeToString(pub.Bytes())
	privateKey = base64.RawURLEncoding.EncodeToString(priv.Bytes())
	return publicKey, privateKey, nil
}
