package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/spritz-hq/spritz/ports"
)

const (
	LoginTopic    = "spritz.auth.login"
	LogoutTopic   = "spritz.auth.logout"
	SecurityTopic = "spritz.auth.security"
)

// LoginEvent announces a successful authentication.
type LoginEvent struct {
	Address    string `json:"address"`
	AuthMethod string `json:"auth_method"`
}

// LogoutEvent announces a logout so other instances can drop cached state.
type LogoutEvent struct {
	Address string `json:"address"`
	TokenID string `json:"token_id"`
}

// WatermillPublisher implements the EventPublisher port using Watermill.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill-backed publisher.
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogin publishes a login event.
func (p *WatermillPublisher) PublishLogin(ctx context.Context, address string, authMethod string) error {
	return p.publish(LoginTopic, LoginEvent{Address: address, AuthMethod: authMethod})
}

// PublishLogout publishes a logout event.
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string, tokenID string) error {
	return p.publish(LogoutTopic, LogoutEvent{Address: address, TokenID: tokenID})
}

// PublishSecurity publishes a security event.
func (p *WatermillPublisher) PublishSecurity(ctx context.Context, event ports.SecurityEvent) error {
	return p.publish(SecurityTopic, event)
}

func (p *WatermillPublisher) publish(topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
