package llm

import (
	"context"
	"testing"
)

type stubProvider struct {
	content string
	err     error
}

func (s *stubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: s.content}, nil
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripFences(tc.in); got != tc.want {
				t.Errorf("StripFences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestChatJSON(t *testing.T) {
	p := &stubProvider{content: "```json\n{\"analysis\": \"ok\", \"count\": 2}\n```"}

	var out struct {
		Analysis string `json:"analysis"`
		Count    int    `json:"count"`
	}
	if err := ChatJSON(context.Background(), p, &ChatRequest{Model: "m"}, &out); err != nil {
		t.Fatalf("ChatJSON: %v", err)
	}
	if out.Analysis != "ok" || out.Count != 2 {
		t.Errorf("unexpected decode: %+v", out)
	}
}

func TestChatJSONInvalid(t *testing.T) {
	p := &stubProvider{content: "not json at all"}

	var out map[string]any
	if err := ChatJSON(context.Background(), p, &ChatRequest{Model: "m"}, &out); err == nil {
		t.Fatal("expected decode error")
	}
}
