package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/respond/internal/incident"
)

func sample() *incident.Notification {
	return &incident.Notification{
		Type:             incident.NotifyIncident,
		PriorityTier:     incident.TierP1,
		Title:            "Incident INC-0001 Auto-Created",
		Description:      "New P1 incident auto-created from detection.",
		AffectedAssetIDs: []string{"asset-1"},
		Metadata:         map[string]any{"incidentNumber": "INC-0001"},
		Timestamp:        time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.Notify(context.Background(), sample()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "INC-0001") {
		t.Errorf("header text = %q, want to contain INC-0001", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Error("header should contain red circle for P1")
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", nil)
	if err := n.Notify(context.Background(), sample()); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_TruncatesLongDescription(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	msg := sample()
	msg.Description = strings.Repeat("x", 4000)
	if err := New(srv.URL, log.Nop()).Notify(context.Background(), msg); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks := got["blocks"].([]any)
	text := blocks[4].(map[string]any)["text"].(map[string]any)["text"].(string)
	if len(text) != maxDescriptionLen {
		t.Errorf("description length = %d, want %d", len(text), maxDescriptionLen)
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated description to end with ...")
	}
}

func TestNotify_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).Notify(context.Background(), sample())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestTierEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		typ  incident.NotificationType
		tier incident.Tier
		want string
	}{
		{"breach overrides tier", incident.NotifySLABreach, incident.TierP4, "\U0001f6a8"},
		{"p1", incident.NotifyIncident, incident.TierP1, "\U0001f534"},
		{"p2", incident.NotifyIncident, incident.TierP2, "\U0001f7e0"},
		{"p3", incident.NotifyIncident, incident.TierP3, "\U0001f7e1"},
		{"p4", incident.NotifyIncident, incident.TierP4, "\U0001f7e2"},
		{"empty", incident.NotifyIncident, "", "\U0001f7e2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tierEmoji(tt.typ, tt.tier); got != tt.want {
				t.Errorf("tierEmoji(%q, %q) = %q, want %q", tt.typ, tt.tier, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("Incident INC-0001 Auto-Created", "P1", "desc", "asset-1")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "P3", "*bold* _italic_ ~strike~", "a")
	f.Add("title\x00\x01", "P\n2", "desc\ttab", "x\x00y")
	f.Add(strings.Repeat("A", 5000), "P4", strings.Repeat("x", 10000), "")

	f.Fuzz(func(t *testing.T, title, tier, desc, asset string) {
		n := &incident.Notification{
			Type:             incident.NotifyIncident,
			PriorityTier:     incident.Tier(tier),
			Title:            title,
			Description:      desc,
			AffectedAssetIDs: []string{asset},
			Timestamp:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}

		data, err := json.Marshal(buildMessage(n))
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		blocks, ok := decoded["blocks"].([]any)
		if !ok || len(blocks) != 7 {
			t.Fatalf("blocks = %v", decoded["blocks"])
		}
	})
}
