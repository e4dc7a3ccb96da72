// Package cursor provides an HTTP client for the Cursor cloud agents API.
package cursor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/port/agentclient"
	"github.com/skarsol/convoy/internal/resilience"
)

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 30 * time.Second
	maxRetries     = 5
)

// Client talks to the Cursor cloud agents API. API keys are sent as HTTP
// basic auth usernames with an empty password.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ agentclient.Client = (*Client)(nil)

// NewClient creates a new Cursor API client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type launchTarget struct {
	AutoCreatePR          bool   `json:"autoCreatePr"`
	OpenAsCursorGithubApp bool   `json:"openAsCursorGithubApp"`
	SkipReviewerRequest   bool   `json:"skipReviewerRequest"`
	BranchName            string `json:"branchName,omitempty"`
}

type launchPayload struct {
	Prompt struct {
		Text string `json:"text"`
	} `json:"prompt"`
	Source struct {
		Repository string `json:"repository"`
		Ref        string `json:"ref"`
	} `json:"source"`
	Target launchTarget `json:"target"`
}

// Launch starts a cloud agent. When no ref is given it tries "main" and
// falls back to "master" if the provider reports the branch does not exist.
func (c *Client) Launch(ctx context.Context, req *agentclient.LaunchRequest) (string, error) {
	refs := []string{req.Ref}
	if req.Ref == "" {
		refs = []string{"main", "master"}
	}

	var lastErr error
	for _, ref := range refs {
		var payload launchPayload
		payload.Prompt.Text = req.Prompt
		payload.Source.Repository = req.Repository
		payload.Source.Ref = ref
		payload.Target = launchTarget{
			AutoCreatePR:          req.AutoCreatePR,
			OpenAsCursorGithubApp: true,
			BranchName:            req.BranchName,
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal launch payload: %w", err)
		}

		data, err := c.doRequest(ctx, http.MethodPost, "/v0/agents", body)
		if err != nil {
			if isMissingRef(err) {
				lastErr = err
				continue
			}
			return "", fmt.Errorf("launch agent: %w", err)
		}

		var result struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return "", fmt.Errorf("unmarshal launch response: %w", err)
		}
		return result.ID, nil
	}

	return "", fmt.Errorf("launch agent: %w", lastErr)
}

// Status returns the agent's provider-reported state.
func (c *Client) Status(ctx context.Context, agentID string) (*run.AgentSignal, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v0/agents/"+agentID, nil)
	if err != nil {
		return nil, fmt.Errorf("agent status %s: %w", agentID, err)
	}

	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Target struct {
			BranchName string `json:"branchName"`
			PRURL      string `json:"prUrl"`
		} `json:"target"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal agent status: %w", err)
	}

	return &run.AgentSignal{
		AgentID:    result.ID,
		State:      run.AgentState(result.Status),
		BranchName: result.Target.BranchName,
		PRURL:      result.Target.PRURL,
		Summary:    result.Summary,
	}, nil
}

// Conversation returns the agent's canonical ordered conversation.
func (c *Client) Conversation(ctx context.Context, agentID string) ([]run.Message, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v0/agents/"+agentID+"/conversation", nil)
	if err != nil {
		return nil, fmt.Errorf("agent conversation %s: %w", agentID, err)
	}

	var result struct {
		Messages []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}

	messages := make([]run.Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		messages = append(messages, run.Message{
			ID:   m.ID,
			Role: roleFromType(m.Type),
			Text: m.Text,
		})
	}
	return messages, nil
}

// Followup sends a follow-up instruction to a running agent.
func (c *Client) Followup(ctx context.Context, agentID, text string) error {
	payload := map[string]any{
		"prompt": map[string]string{"text": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal followup: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/v0/agents/"+agentID+"/followup", body); err != nil {
		return fmt.Errorf("send followup %s: %w", agentID, err)
	}
	return nil
}

// Stop cancels a running agent.
func (c *Client) Stop(ctx context.Context, agentID string) error {
	if _, err := c.doRequest(ctx, http.MethodPost, "/v0/agents/"+agentID+"/stop", nil); err != nil {
		return fmt.Errorf("stop agent %s: %w", agentID, err)
	}
	return nil
}

// Verify checks the API key against the provider's identity endpoint.
func (c *Client) Verify(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/v0/me", nil); err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	return nil
}

// roleFromType maps the provider's message types onto conversation roles.
func roleFromType(t string) string {
	if t == "user_message" {
		return run.RoleUser
	}
	return run.RoleAssistant
}

// isMissingRef detects the provider's branch-not-found launch error.
func isMissingRef(err error) bool {
	return strings.Contains(err.Error(), "does not exist")
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		for attempt := 0; ; attempt++ {
			var bodyReader io.Reader
			if body != nil {
				bodyReader = bytes.NewReader(body)
			}

			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			req.Header.Set("Content-Type", "application/json")
			req.SetBasicAuth(c.apiKey, "")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("http request: %w", err)
			}

			data, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			// Back off and retry on rate limiting.
			if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries {
				delay := min(baseRetryDelay<<attempt, maxRetryDelay)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
				continue
			}

			if resp.StatusCode >= 400 {
				return fmt.Errorf("cursor API error %d: %s", resp.StatusCode, string(data))
			}

			result = data
			return nil
		}
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
