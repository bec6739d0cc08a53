package ports

import "context"

// Security event kinds published on the security topic.
const (
	EventCounterRegression  = "counter_regression"
	EventVerificationFailed = "verification_failed"
	EventRescueIssued       = "rescue_issued"
	EventAddressMigrated    = "address_migrated"
)

// SecurityEvent records a security-relevant condition. No secret material is
// carried; Detail is safe to log and persist.
type SecurityEvent struct {
	Kind         string `json:"kind"`
	Address      string `json:"address,omitempty"`
	CredentialID string `json:"credential_id,omitempty"`
	ClientIP     string `json:"client_ip,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// EventPublisher publishes auth lifecycle events to notify other instances.
type EventPublisher interface {
	PublishLogin(ctx context.Context, address string, authMethod string) error
	PublishLogout(ctx context.Context, address string, tokenID string) error
	PublishSecurity(ctx context.Context, event SecurityEvent) error
}
