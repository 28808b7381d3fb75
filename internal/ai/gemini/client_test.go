package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type scriptedReply struct {
	resp *genai.GenerateContentResponse
	err  error
}

// scriptedChats hands out one reply per created chat, in order.
type scriptedChats struct {
	mu       sync.Mutex
	replies  []scriptedReply
	models   []string
	configs  []*genai.GenerateContentConfig
	messages []string
}

type scriptedChat struct {
	owner *scriptedChats
	reply scriptedReply
}

func (c *scriptedChat) SendMessage(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	c.owner.mu.Lock()
	defer c.owner.mu.Unlock()
	for _, p := range parts {
		c.owner.messages = append(c.owner.messages, p.Text)
	}
	return c.reply.resp, c.reply.err
}

func (s *scriptedChats) Create(_ context.Context, model string, config *genai.GenerateContentConfig, _ []*genai.Content) (chatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	s.models = append(s.models, model)
	s.configs = append(s.configs, config)
	return &scriptedChat{owner: s, reply: reply}, nil
}

func textReply(text string) scriptedReply {
	return scriptedReply{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}}
}

func errReply(err error) scriptedReply {
	return scriptedReply{err: err}
}

func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()

	var slept []time.Duration
	original := sleep
	sleep = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { sleep = original })

	return &slept
}

func testGenerator(chats chatCreator, maxRetries int) *Generator {
	return &Generator{
		chats:      chats,
		model:      defaultModel,
		maxRetries: maxRetries,
		logger:     zap.NewNop(),
	}
}

var unavailable = genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}

func TestGenerateContentRetriesTemporaryErrors(t *testing.T) {
	slept := recordSleeps(t)

	chats := &scriptedChats{replies: []scriptedReply{
		errReply(unavailable),
		errReply(genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"}),
		textReply(`{"fit": true}`),
	}}
	g := testGenerator(chats, 3)

	out, err := g.GenerateContent(context.Background(), "recruiter prompt", "resume text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"fit": true}` {
		t.Fatalf("unexpected output %q", out)
	}

	if len(*slept) != 2 || (*slept)[0] != baseRetryDelay || (*slept)[1] != 2*baseRetryDelay {
		t.Fatalf("expected linear backoff, got %v", *slept)
	}

	if len(chats.configs) != 3 {
		t.Fatalf("expected a fresh chat per attempt, got %d", len(chats.configs))
	}
	for i, cfg := range chats.configs {
		if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "recruiter prompt" {
			t.Fatalf("attempt %d: system instruction not set", i)
		}
		if cfg.ResponseMIMEType != "application/json" {
			t.Fatalf("attempt %d: expected json responses, got %q", i, cfg.ResponseMIMEType)
		}
		if chats.models[i] != defaultModel {
			t.Fatalf("attempt %d: unexpected model %s", i, chats.models[i])
		}
	}
	for _, m := range chats.messages {
		if m != "resume text" {
			t.Fatalf("unexpected message %q", m)
		}
	}
}

func TestGenerateContentGivesUp(t *testing.T) {
	tests := []struct {
		name    string
		replies []scriptedReply
		calls   int
	}{
		{
			name:    "attempts exhausted",
			replies: []scriptedReply{errReply(unavailable), errReply(unavailable)},
			calls:   2,
		},
		{
			name: "quota delay too long",
			replies: []scriptedReply{errReply(genai.APIError{
				Code:    http.StatusTooManyRequests,
				Status:  "RESOURCE_EXHAUSTED",
				Message: "quota exhausted, retry after 60 seconds",
			})},
			calls: 1,
		},
		{
			name:    "client error",
			replies: []scriptedReply{errReply(genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"})},
			calls:   1,
		},
		{
			name:    "non api error",
			replies: []scriptedReply{errReply(errors.New("connection reset"))},
			calls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recordSleeps(t)

			chats := &scriptedChats{replies: tt.replies}
			if _, err := testGenerator(chats, 2).GenerateContent(context.Background(), "sys", "msg"); err == nil {
				t.Fatalf("expected error")
			}
			if len(chats.models) != tt.calls {
				t.Fatalf("expected %d calls, got %d", tt.calls, len(chats.models))
			}
		})
	}
}

func TestGenerateContentHonoursShortQuotaDelay(t *testing.T) {
	slept := recordSleeps(t)

	quota := genai.APIError{
		Code:    http.StatusTooManyRequests,
		Status:  "RESOURCE_EXHAUSTED",
		Details: []map[string]any{{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "7s"}},
	}
	chats := &scriptedChats{replies: []scriptedReply{errReply(quota), textReply("ok")}}

	if _, err := testGenerator(chats, 3).GenerateContent(context.Background(), "sys", "msg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 7*time.Second {
		t.Fatalf("expected the server delay to be used, got %v", *slept)
	}
}

func TestGenerateContentRejectsEmptyInput(t *testing.T) {
	chats := &scriptedChats{replies: []scriptedReply{textReply("   ")}}
	g := testGenerator(chats, 1)

	if _, err := g.GenerateContent(context.Background(), "sys", "  "); err == nil {
		t.Fatalf("expected error for an empty message")
	}
	if len(chats.models) != 0 {
		t.Fatalf("empty message must not reach the api")
	}

	if _, err := g.GenerateContent(context.Background(), "sys", "msg"); err == nil {
		t.Fatalf("expected error for an empty response")
	}

	var nilGenerator *Generator
	if _, err := nilGenerator.GenerateContent(context.Background(), "sys", "msg"); err == nil {
		t.Fatalf("expected error from a nil generator")
	}
}

func TestQuotaDelay(t *testing.T) {
	tests := []struct {
		name string
		err  genai.APIError
		want time.Duration
		ok   bool
	}{
		{name: "retry info", err: genai.APIError{Details: []map[string]any{{"retryDelay": "12s"}}}, want: 12 * time.Second, ok: true},
		{name: "message seconds", err: genai.APIError{Message: "Please retry in 4.5s."}, want: 4500 * time.Millisecond, ok: true},
		{name: "nothing", err: genai.APIError{Message: "quota exceeded"}},
		{name: "bad duration", err: genai.APIError{Details: []map[string]any{{"retryDelay": "soon"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := quotaDelay(tt.err)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("expected %v/%v, got %v/%v", tt.want, tt.ok, got, ok)
			}
		})
	}
}
