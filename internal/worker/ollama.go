package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// formatInstruction tells the model how to shape its answer.
const formatInstruction = `You are a helpful writing assistant annotating paragraphs of a note.
Only suggest changes that are relevant and helpful.
Reply with JSON only: {"enhancedParagraphs":[{"blockId":"<id>","updatedText":"<text>"}]}.
Omit paragraphs that need no annotation.`

// Ollama calls an Ollama-compatible chat endpoint.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates an Ollama worker. Zero values fall back to a local
// server and a small default model.
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// enhancedContent is the JSON the model is asked to produce.
type enhancedContent struct {
	EnhancedParagraphs []Result `json:"enhancedParagraphs"`
}

// Annotate sends all blocks of req in one chat call and emits a single
// response.
func (o *Ollama) Annotate(ctx context.Context, req Request, emit Emitter) error {
	if len(req.Blocks) == 0 {
		return nil
	}

	content, err := json.Marshal(req.Blocks)
	if err != nil {
		return fmt.Errorf("ollama: marshal blocks: %w", err)
	}

	system := formatInstruction
	if !promptInThread(req.Blocks) {
		system += "\n\n" + req.Prompt
	}

	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: "Here is my content: " + string(content)},
		},
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(msg))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return fmt.Errorf("ollama: decode response: %w", err)
	}

	var enhanced enhancedContent
	if err := json.Unmarshal([]byte(chat.Message.Content), &enhanced); err != nil {
		return fmt.Errorf("ollama: decode content: %w", err)
	}

	emit(Response{
		RequestID: req.ID,
		Annotator: req.Annotator,
		Results:   enhanced.EnhancedParagraphs,
	})
	return nil
}

// promptInThread reports whether every block already carries the prompt in
// its thread.
func promptInThread(blocks []RequestBlock) bool {
	for _, b := range blocks {
		if !b.PromptInThread {
			return false
		}
	}
	return true
}
