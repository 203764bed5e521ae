package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/respond/internal/incident"
)

func sample() *incident.Notification {
	return &incident.Notification{
		Type:             incident.NotifyIncident,
		PriorityTier:     incident.TierP2,
		Title:            "Incident INC-0007 Auto-Created",
		Description:      "desc",
		AffectedAssetIDs: []string{"asset-1"},
		Metadata:         map[string]any{"incidentId": "01ABC"},
		Timestamp:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

// flaky answers with the given statuses in order, then 200.
func flaky(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		i := int(calls.Add(1)) - 1
		if i < len(statuses) {
			w.WriteHeader(statuses[i])
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func fast(url string) Config {
	return Config{URL: url, InitialInterval: time.Millisecond}
}

func TestNotify_PayloadAndHeaders(t *testing.T) {
	t.Parallel()

	var (
		got    map[string]any
		source string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source = r.Header.Get("X-Alert-Source")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := fast(srv.URL)
	cfg.Source = "soc-engine"
	if err := New(cfg, log.Nop()).Notify(context.Background(), sample()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if source != "soc-engine" {
		t.Errorf("X-Alert-Source = %q, want soc-engine", source)
	}
	if got["type"] != "incident" || got["priorityTier"] != "P2" || got["title"] != "Incident INC-0007 Auto-Created" {
		t.Errorf("payload = %v", got)
	}
	if assets, ok := got["affectedAssetIds"].([]any); !ok || len(assets) != 1 {
		t.Errorf("affectedAssetIds = %v", got["affectedAssetIds"])
	}
}

func TestNotify_Retries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantErr   bool
	}{
		{"first try", nil, 1, false},
		{"recovers on third", []int{500, 503}, 3, false},
		{"rate limited then ok", []int{429}, 2, false},
		{"gives up after three", []int{500, 500, 500, 500}, 3, true},
		{"client error is permanent", []int{400}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, calls := flaky(t, tt.statuses...)
			err := New(fast(srv.URL), log.Nop()).Notify(context.Background(), sample())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	if err := New(Config{}, nil).Notify(context.Background(), sample()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	n := New(Config{URL: "http://example.invalid"}, nil)
	if n.cfg.Source != DefaultSource || n.cfg.MaxTries != DefaultMaxTries || n.cfg.InitialInterval != DefaultInitialInterval {
		t.Errorf("cfg = %+v", n.cfg)
	}
	b := n.backOff()
	if first := b.NextBackOff(); first != time.Second {
		t.Errorf("first interval = %v, want 1s", first)
	}
	if second := b.NextBackOff(); second != 2*time.Second {
		t.Errorf("second interval = %v, want 2s", second)
	}
}
