package vlm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func completionBody(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func TestCompleteSendsPromptAndFrame(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		io.WriteString(w, completionBody("all clear"))
	}))
	defer srv.Close()

	client := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "secret",
		Model:   "sentinel-vl",
	}, zerolog.Nop())

	out, err := client.Complete(context.Background(), "describe the scene", []byte{0xff, 0xd8, 0xff, 0xd9})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "all clear" {
		t.Fatalf("expected completion text, got %q", out)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotReq.Model != "sentinel-vl" {
		t.Fatalf("expected model in request, got %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 1 || len(gotReq.Messages[0].Content) != 2 {
		t.Fatalf("expected one message with text+image parts, got %+v", gotReq.Messages)
	}
	img := gotReq.Messages[0].Content[1].ImageURL
	if img == nil || !strings.HasPrefix(img.URL, "data:image/jpeg;base64,") {
		t.Fatalf("expected data URL image part, got %+v", img)
	}
}

func TestCompleteRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Model: "m"}, zerolog.Nop())

	_, err := client.Complete(context.Background(), "p", nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Model: "m"}, zerolog.Nop())

	_, err := client.Complete(context.Background(), "p", nil)
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestCompleteTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		io.WriteString(w, completionBody("late"))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Model: "m", Timeout: 30 * time.Millisecond}, zerolog.Nop())

	_, err := client.Complete(context.Background(), "p", nil)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestCompleteHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(Config{BaseURL: "http://127.0.0.1:0", Model: "m"}, zerolog.Nop())

	_, err := client.Complete(ctx, "p", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFirstJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"prose around", `Sure! {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`, true},
		{"braces in strings", `{"a":"}{"}`, `{"a":"}{"}`, true},
		{"no object", "APPROVED", "", false},
		{"unbalanced", `{"a":1`, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FirstJSONObject(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("FirstJSONObject(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}
