package auth

import (
	"testing"
	"time"
)

func TestCredentialManagerChain(t *testing.T) {
	mockStore := NewMockStore()
	manager := NewManagerWithStores(mockStore)

	account := &Account{
		Username:     "trader_one",
		AuthToken:    "auth_token_value_12345",
		CSRFToken:    "csrf_token_value_67890",
		UserAgent:    "TestAgent/1.0",
		LastModified: time.Now(),
	}

	if err := manager.Store(account); err != nil {
		t.Errorf("Failed to store account: %v", err)
	}

	retrieved, err := manager.Retrieve("trader_one")
	if err != nil {
		t.Fatalf("Failed to retrieve account: %v", err)
	}
	if retrieved.Username != account.Username {
		t.Errorf("Username mismatch: got %s, want %s", retrieved.Username, account.Username)
	}
	if retrieved.AuthToken != account.AuthToken {
		t.Errorf("AuthToken mismatch: got %s, want %s", retrieved.AuthToken, account.AuthToken)
	}
	if retrieved.CSRFToken != account.CSRFToken {
		t.Errorf("CSRFToken mismatch: got %s, want %s", retrieved.CSRFToken, account.CSRFToken)
	}

	accounts, err := manager.List()
	if err != nil {
		t.Errorf("Failed to list accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("Expected one account in list, got %d", len(accounts))
	}

	if err := manager.Delete("trader_one"); err != nil {
		t.Errorf("Failed to delete account: %v", err)
	}
	if _, err := manager.Retrieve("trader_one"); err == nil {
		t.Error("Expected error retrieving deleted account")
	}
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	broken := NewMockStore()
	broken.FailStore = true
	working := NewMockStore()
	manager := NewManagerWithStores(broken, working)

	account := &Account{
		Username:  "trader_two",
		AuthToken: "auth_token_abcdef",
		CSRFToken: "csrf_token_abcdef",
	}
	if err := manager.Store(account); err != nil {
		t.Fatalf("Store should fall back to the working store: %v", err)
	}
	if !working.Exists("trader_two") {
		t.Error("Account should land in the fallback store")
	}
}

func TestStoreValidation(t *testing.T) {
	manager := NewManagerWithStores(NewMockStore())

	cases := []struct {
		name    string
		account *Account
	}{
		{"missing username", &Account{AuthToken: "a", CSRFToken: "b"}},
		{"missing auth token", &Account{Username: "u", CSRFToken: "b"}},
		{"missing csrf token", &Account{Username: "u", AuthToken: "a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := manager.Store(tc.account); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestSanitizeAccount(t *testing.T) {
	account := &Account{
		Username:  "trader_one",
		AuthToken: "auth_token_value_12345",
		CSRFToken: "csrf_token_value_67890",
	}

	sanitized := SanitizeAccount(account)
	if sanitized.AuthToken == account.AuthToken {
		t.Error("AuthToken should be masked")
	}
	if sanitized.CSRFToken == account.CSRFToken {
		t.Error("CSRFToken should be masked")
	}
	if sanitized.Username != account.Username {
		t.Error("Username should not be masked")
	}
}

func TestAccountPairChecks(t *testing.T) {
	var nilAccount *Account
	if nilAccount.HasCookiePair() || nilAccount.HasLoginPair() {
		t.Error("nil account has no credentials")
	}

	cookie := &Account{AuthToken: "a", CSRFToken: "c"}
	if !cookie.HasCookiePair() {
		t.Error("Expected cookie pair")
	}
	if cookie.HasLoginPair() {
		t.Error("Did not expect login pair")
	}

	login := &Account{Username: "u", Password: "p"}
	if !login.HasLoginPair() {
		t.Error("Expected login pair")
	}
	if login.HasCookiePair() {
		t.Error("Did not expect cookie pair")
	}
}
