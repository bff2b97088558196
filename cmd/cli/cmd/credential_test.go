package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestCredentialStoreCommand_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/credentials" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var reqBody map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if reqBody["secret"] != "pplx-abc123" {
			t.Errorf("expected secret in body, got %v", reqBody["secret"])
		}
		scopes, _ := reqBody["scopes"].([]interface{})
		if len(scopes) != 1 || scopes[0] != "llm" {
			t.Errorf("expected scopes=[llm], got %v", scopes)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"ref": "cred-ref-1"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"credential", "store", "--secret", "pplx-abc123", "--scope", "llm"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Credential stored") {
		t.Errorf("expected success message, got: %s", output)
	}
	if !strings.Contains(output, "cred-ref-1") {
		t.Errorf("expected ref in output, got: %s", output)
	}
}

func TestCredentialStoreCommand_MissingSecret(t *testing.T) {
	resetViper()

	// Reset flags from previous tests
	credentialStoreCmd.Flags().Set("secret", "")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called when validation fails")
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"credential", "store", "--scope", "llm"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "--secret is required") {
		t.Errorf("expected secret required error, got: %s", output)
	}
}

func TestCredentialRevealCommand_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/credentials/cred-ref-1/reveal" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)
		if reqBody["scope"] != "llm" {
			t.Errorf("expected scope=llm, got %v", reqBody["scope"])
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"secret": "pplx-abc123"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"credential", "reveal", "cred-ref-1", "--scope", "llm"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "pplx-abc123") {
		t.Errorf("expected plaintext in output, got: %s", stdout.String())
	}
}

func TestCredentialRevealCommand_ScopeDenied(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Scope not allowed"))
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"credential", "reveal", "cred-ref-1", "--scope", "billing"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "Error (403)") {
		t.Errorf("expected 403 error, got: %s", stdout.String())
	}
}

func TestCredentialRevokeCommand_Success(t *testing.T) {
	resetViper()

	var calledMethod, calledPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calledMethod = r.Method
		calledPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"credential", "revoke", "cred-ref-1"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calledMethod != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", calledMethod)
	}
	if calledPath != "/credentials/cred-ref-1" {
		t.Errorf("unexpected path: %s", calledPath)
	}
	if !strings.Contains(stdout.String(), "revoked") {
		t.Errorf("expected revoke confirmation, got: %s", stdout.String())
	}
}
