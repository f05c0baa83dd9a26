package auth

import (
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestTokenLifecycle(t *testing.T) {
	keyring.MockInit()

	apiURL := "https://api.fixmart.test/"

	if _, err := LoadToken(apiURL); err == nil || !strings.Contains(err.Error(), "fixmart login") {
		t.Fatalf("expected not authenticated error, got %v", err)
	}

	if err := Default.SaveToken(apiURL, "token-abc"); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	// Trailing slashes do not change the key
	token, err := Default.LoadToken("https://api.fixmart.test")
	if err != nil {
		t.Fatalf("LoadToken failed: %v", err)
	}
	if token != "token-abc" {
		t.Errorf("expected token-abc, got %q", token)
	}

	if err := Default.DeleteToken(apiURL); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	if err := Default.DeleteToken(apiURL); err != nil {
		t.Errorf("deleting a missing token should succeed, got %v", err)
	}
	if _, err := LoadToken(apiURL); err == nil {
		t.Error("expected error after delete")
	}
}
