package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/clawgate/internal/security"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		tier    security.Tier
		action  security.Action
		wantErr bool
	}{
		{
			name:   "bare json",
			text:   `{"tier":"red","action":"block","reason":"destroys the filesystem"}`,
			tier:   security.TierRed,
			action: security.ActionBlock,
		},
		{
			name:   "fenced json",
			text:   "```json\n{\"tier\":\"green\",\"action\":\"allow\",\"reason\":\"read-only\"}\n```",
			tier:   security.TierGreen,
			action: security.ActionAllow,
		},
		{
			name:   "json wrapped in prose",
			text:   `Here is my assessment: {"tier":"yellow","action":"ask","reason":"installs packages"} hope that helps`,
			tier:   security.TierYellow,
			action: security.ActionAsk,
		},
		{name: "no json", text: "I cannot classify that", wantErr: true},
		{name: "unknown tier", text: `{"tier":"purple","action":"allow","reason":"x"}`, wantErr: true},
		{name: "unknown action", text: `{"tier":"green","action":"yolo","reason":"x"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls, err := parseVerdict("some command", tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", cls)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVerdict: %v", err)
			}
			if cls.Tier != tt.tier || cls.Action != tt.action {
				t.Errorf("got %s/%s, want %s/%s", cls.Tier, cls.Action, tt.tier, tt.action)
			}
			if cls.Command != "some command" {
				t.Errorf("command not carried through: %q", cls.Command)
			}
			if (cls.Action == security.ActionAsk) != cls.RequiresApproval {
				t.Errorf("requires_approval %v does not match action %s", cls.RequiresApproval, cls.Action)
			}
		})
	}
}

func TestClassify_CallsAPI(t *testing.T) {
	var gotAuth, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"tier\":\"red\",\"action\":\"block\",\"reason\":\"wipes disk\"}"}]}`))
	}))
	defer srv.Close()

	c := NewClassifier("test-key", WithBaseURL(srv.URL))
	cls, err := c.Classify(context.Background(), "rm -rf /")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Tier != security.TierRed || cls.Action != security.ActionBlock {
		t.Errorf("got %s/%s, want red/block", cls.Tier, cls.Action)
	}
	if gotAuth != "test-key" {
		t.Errorf("x-api-key = %q", gotAuth)
	}
	if gotVersion == "" {
		t.Error("anthropic-version header not set")
	}
}

func TestClassify_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClassifier("test-key", WithBaseURL(srv.URL))
	if _, err := c.Classify(context.Background(), "ls"); err == nil {
		t.Fatal("expected error on 503")
	}
}
