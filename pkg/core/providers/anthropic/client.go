package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// roleCall sends one role prompt and decodes the JSON object the model was
// instructed to reply with into out.
func (p *Provider) roleCall(ctx context.Context, system, prompt string, out any) error {
	req := &messagesRequest{
		Model:     p.model,
		MaxTokens: DefaultMaxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
	}

	respBody, err := p.doRequest(ctx, req)
	if err != nil {
		return err
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return &Error{Type: ErrMalformed, Message: fmt.Sprintf("decode response: %v", err)}
	}

	text := firstText(resp.Content)
	if text == "" {
		return &Error{Type: ErrMalformed, Message: "response contained no text block"}
	}

	if err := json.Unmarshal([]byte(extractJSON(text)), out); err != nil {
		return &Error{Type: ErrMalformed, Message: fmt.Sprintf("decode role result: %v", err)}
	}
	return nil
}

// doRequest sends a non-streaming request to Anthropic.
func (p *Provider) doRequest(ctx context.Context, req *messagesRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", p.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}

func firstText(blocks []contentBlock) string {
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			return b.Text
		}
	}
	return ""
}

// extractJSON tolerates models that wrap the object in prose or fences by
// slicing from the first '{' to the last '}'.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
