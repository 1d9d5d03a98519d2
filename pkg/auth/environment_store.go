package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements CredentialStore over environment variables.
// Read-only; used by CI and container deployments.
type EnvironmentStore struct{}

// NewEnvironmentStore creates an environment-based credential store.
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables.
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables. The username and
// password pair is also read so a browser login can run without any stored
// cookies.
func (e *EnvironmentStore) Retrieve(username string) (*Account, error) {
	authToken := os.Getenv("MARKETPULSE_AUTH_TOKEN")
	csrfToken := os.Getenv("MARKETPULSE_CSRF_TOKEN")
	envUser := os.Getenv("MARKETPULSE_USERNAME")
	password := os.Getenv("MARKETPULSE_PASSWORD")

	hasCookies := authToken != "" && csrfToken != ""
	hasLogin := envUser != "" && password != ""
	if !hasCookies && !hasLogin {
		return nil, ErrCredentialsNotFound
	}

	if username == "" {
		username = envUser
	}
	if username == "" {
		username = "default"
	}

	return &Account{
		Username:     username,
		AuthToken:    authToken,
		CSRFToken:    csrfToken,
		Password:     password,
		UserAgent:    os.Getenv("MARKETPULSE_USER_AGENT"),
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if environment credentials are set.
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables.
func (e *EnvironmentStore) Delete(username string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist.
func (e *EnvironmentStore) Exists(username string) bool {
	_, err := e.Retrieve(username)
	return err == nil
}
