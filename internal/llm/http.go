package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/soyeahso/closer/internal/version"
)

const defaultHTTPTimeout = 120 * time.Second

// maxErrorBody caps how much of a failed response ends up in a ProviderError.
const maxErrorBody = 512

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// postJSON sends body as JSON and decodes a 200 response into out.
// Non-200 responses become a *ProviderError carrying the status code.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &ProviderError{Provider: provider, Code: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", provider, err)
	}
	return nil
}

// flattenPrompt renders a request as a single prompt for providers that
// take one text block.
func flattenPrompt(req CompletionRequest) string {
	var b bytes.Buffer
	if req.System != "" {
		b.WriteString("System: ")
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for _, msg := range req.Messages {
		if msg.Role != RoleUser {
			fmt.Fprintf(&b, "%s: ", msg.Role)
		}
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}
