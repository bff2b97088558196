package cmd

import (
	"bytes"
	"clusterplane/pkg/api"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PlaneClient handles API calls to the clusterplane controller.
type PlaneClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewPlaneClient creates a new client with the given base URL and API key.
func NewPlaneClient(baseURL, token string) *PlaneClient {
	return &PlaneClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends one request with the API key attached and decodes the JSON
// response into out (when out is non-nil).
func (c *PlaneClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("X-API-Key", c.Token)
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Provision sends POST /instances to provision a new cluster instance.
func (c *PlaneClient) Provision(req api.ProvisionRequest) (*api.ProvisionResponse, error) {
	var result api.ProvisionResponse
	if err := c.do(http.MethodPost, "/instances", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetInstance sends GET /instances/{id} to retrieve instance details.
func (c *PlaneClient) GetInstance(instanceID string) (*api.InstanceResponse, error) {
	var result api.InstanceResponse
	if err := c.do(http.MethodGet, "/instances/"+instanceID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Grant sends POST /instances/{id}/grants to entitle another user.
func (c *PlaneClient) Grant(instanceID string, req api.GrantRequest) error {
	return c.do(http.MethodPost, fmt.Sprintf("/instances/%s/grants", instanceID), req, nil)
}

// GetEvents sends GET /instances/{id}/events to retrieve the audit trail.
func (c *PlaneClient) GetEvents(instanceID string) ([]api.EventResponse, error) {
	var result api.GetEventsResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/instances/%s/events", instanceID), nil, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// EnqueueJob sends POST /jobs to schedule a job.
func (c *PlaneClient) EnqueueJob(req api.EnqueueJobRequest) (*api.EnqueueJobResponse, error) {
	var result api.EnqueueJobResponse
	if err := c.do(http.MethodPost, "/jobs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id} to retrieve job details.
func (c *PlaneClient) GetJob(jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, "/jobs/"+jobID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelJob sends POST /jobs/{id}/cancel.
func (c *PlaneClient) CancelJob(jobID string) error {
	return c.do(http.MethodPost, fmt.Sprintf("/jobs/%s/cancel", jobID), nil, nil)
}

// StoreCredential sends POST /credentials to store a secret.
func (c *PlaneClient) StoreCredential(req api.StoreCredentialRequest) (*api.StoreCredentialResponse, error) {
	var result api.StoreCredentialResponse
	if err := c.do(http.MethodPost, "/credentials", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RevealCredential sends POST /credentials/{ref}/reveal.
func (c *PlaneClient) RevealCredential(ref string, req api.RevealCredentialRequest) (*api.RevealCredentialResponse, error) {
	var result api.RevealCredentialResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/credentials/%s/reveal", ref), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RevokeCredential sends DELETE /credentials/{ref}.
func (c *PlaneClient) RevokeCredential(ref string) error {
	return c.do(http.MethodDelete, "/credentials/"+ref, nil, nil)
}
