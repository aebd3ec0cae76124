package domain

import (
	"context"
	"time"
)

// IntegrationType identifies the kind of external business system
// an integration connects to.
type IntegrationType string

const (
	IntegrationIssueTracker IntegrationType = "issue_tracker"
	IntegrationCRM          IntegrationType = "crm"
	IntegrationHelpdesk     IntegrationType = "helpdesk"
	IntegrationCodeHost     IntegrationType = "code_host"
	IntegrationChat         IntegrationType = "chat"
)

// Integration is a configured connection to one external business system.
// CredentialBlob holds the encrypted credential payload; decryption happens
// via CredentialDecryptor immediately before bundle construction.
type Integration struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Type           IntegrationType `json:"type"`
	Name           string          `json:"name"`
	CredentialBlob string          `json:"-"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CredentialBundle holds one integration's decrypted credentials.
// A bundle is owned by exactly one tool instance and is never persisted
// in plaintext.
type CredentialBundle struct {
	IntegrationType IntegrationType
	Credentials     map[string]string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Get returns the credential value for key, or "" if absent.
func (b CredentialBundle) Get(key string) string {
	return b.Credentials[key]
}

// Has reports whether the bundle contains a non-empty value for key.
func (b CredentialBundle) Has(key string) bool {
	return b.Credentials[key] != ""
}

// IntegrationStore provides read access to stored integrations.
// The orchestration core only ever reads; lifecycle writes happen in the
// endpoint layer and reach this core via LoadForIntegration / Unload hooks.
type IntegrationStore interface {
	Get(ctx context.Context, id string) (*Integration, error)
	ListByUser(ctx context.Context, userID string) ([]*Integration, error)
	// ListActive returns every active integration, across all users.
	// Used by the periodic health sweep.
	ListActive(ctx context.Context) ([]*Integration, error)
}

// CredentialDecryptor decrypts a stored credential blob into a credential map.
type CredentialDecryptor interface {
	Decrypt(blob string) (map[string]string, error)
}
