package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestStatusCommand_Succeeded(t *testing.T) {
	resetViper()

	now := time.Now().UTC()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/job-123" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-token" {
			t.Errorf("expected API key header, got: %s", r.Header.Get("X-API-Key"))
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "job-123",
			"instance_id": "inst-123",
			"type":        "notify",
			"status":      "succeeded",
			"attempts":    1,
			"run_at":      now,
			"created_at":  now,
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "job-123"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "job-123") {
		t.Errorf("expected job ID in output, got: %s", output)
	}
	if !strings.Contains(output, "succeeded") {
		t.Errorf("expected status in output, got: %s", output)
	}
}

func TestStatusCommand_FailedShowsError(t *testing.T) {
	resetViper()

	now := time.Now().UTC()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "job-999",
			"instance_id": "inst-123",
			"type":        "notify",
			"status":      "failed",
			"attempts":    5,
			"last_error":  "telegram API error: chat not found",
			"run_at":      now,
			"created_at":  now,
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "job-999"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "failed") {
		t.Errorf("expected status in output, got: %s", output)
	}
	if !strings.Contains(output, "chat not found") {
		t.Errorf("expected last error in output, got: %s", output)
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Job not found"))
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "job-missing"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Error (404)") {
		t.Errorf("expected 404 error in output, got: %s", output)
	}
}

func TestCancelCommand_Success(t *testing.T) {
	resetViper()

	var calledPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
	rootCmd.SetArgs([]string{"cancel", "job-123"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calledPath != "/jobs/job-123/cancel" {
		t.Errorf("unexpected path: %s", calledPath)
	}
	if !strings.Contains(stdout.String(), "cancelled") {
		t.Errorf("expected cancel confirmation, got: %s", stdout.String())
	}
}

func TestCancelCommand_RunningConflict(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("Job is already running"))
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"cancel", "job-123"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "Error (409)") {
		t.Errorf("expected 409 error, got: %s", stdout.String())
	}
}
