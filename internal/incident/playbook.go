package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultPlaybookTimeout = 60 * time.Second
	PlaybookResponseTokens = 2048

	unknownAsset = "Unknown"
)

var errMalformedPlaybook = errors.New("malformed playbook response")

// PlaybookContext is the structured input sent to the drafting backend.
type PlaybookContext struct {
	PriorityTier  Tier     `json:"priorityTier"`
	AssetName     string   `json:"assetName"`
	AssetType     string   `json:"assetType"`
	Indicator     string   `json:"indicator"`
	TechniqueTags []string `json:"techniqueTags"`
}

type taskDraft struct {
	Phase    TaskPhase
	Title    string
	Assignee string
	Sequence int
}

// Generator drafts and persists playbook tasks for new incidents.
type Generator struct {
	store    Store
	provider Provider
	timeout  time.Duration
	logger   log.Logger
	hooks    Hooks
}

// NewGenerator creates a Generator. A nil provider disables drafting: every
// incident is created with an empty playbook.
func NewGenerator(store Store, provider Provider, timeout time.Duration, logger log.Logger, hooks Hooks) *Generator {
	if timeout <= 0 {
		timeout = DefaultPlaybookTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Generator{
		store:    store,
		provider: provider,
		timeout:  timeout,
		logger:   logger,
		hooks:    hooks,
	}
}

// Generate drafts tasks for inc and persists them in generated order. It
// never fails: any drafting or persistence error is logged and an empty
// playbook is returned.
func (g *Generator) Generate(ctx context.Context, inc *Incident, d *Detection) []*Task {
	ctx, span := tracer.Start(ctx, "incident.GeneratePlaybook", trace.WithAttributes(
		attribute.String("respond.incident.id", inc.ID),
	))
	defer span.End()

	L := g.logger.With("incident_id", inc.ID, "incident_number", inc.Number)

	tasks, err := g.draft(ctx, inc, d)
	if err == nil && len(tasks) > 0 {
		if perr := g.store.InsertTasks(ctx, tasks); perr != nil {
			err = fmt.Errorf("%w: persist tasks: %w", ErrPlaybookDegraded, perr)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "playbook degraded")
		L.Error(ctx, err, "playbook generation degraded, continuing without tasks")
		if g.hooks.OnPlaybook != nil {
			g.hooks.OnPlaybook(0, true)
		}
		return []*Task{}
	}

	span.SetAttributes(attribute.Int("respond.playbook.tasks", len(tasks)))
	L.Info(ctx, "playbook generated", "tasks", len(tasks))
	if g.hooks.OnPlaybook != nil {
		g.hooks.OnPlaybook(len(tasks), false)
	}
	return tasks
}

func (g *Generator) draft(ctx context.Context, inc *Incident, d *Detection) ([]*Task, error) {
	if g.provider == nil {
		return nil, fmt.Errorf("%w: no drafting backend configured", ErrPlaybookDegraded)
	}

	pc := PlaybookContext{
		PriorityTier:  inc.Tier,
		AssetName:     unknownAsset,
		AssetType:     unknownAsset,
		Indicator:     d.Indicator,
		TechniqueTags: orderedSet(d.TechniqueTags),
	}
	if d.AssetID != nil {
		asset, ok, err := g.store.GetAsset(ctx, *d.AssetID)
		switch {
		case err != nil:
			g.logger.Warn(ctx, "asset lookup failed, drafting without asset context",
				"asset_id", *d.AssetID,
				"error", err,
			)
		case ok:
			pc.AssetName = asset.Name
			pc.AssetType = asset.Type
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.provider.Send(ctx, &LLMRequest{
		MaxTokens: PlaybookResponseTokens,
		System:    playbookSystemPrompt,
		Prompt:    buildPlaybookPrompt(&pc),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlaybookDegraded, err)
	}

	drafts, dropped, err := parsePlaybook(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlaybookDegraded, err)
	}
	if dropped > 0 {
		g.logger.Warn(ctx, "dropped invalid playbook tasks",
			"incident_id", inc.ID,
			"dropped", dropped,
		)
	}

	tasks := make([]*Task, 0, len(drafts))
	for _, td := range drafts {
		tasks = append(tasks, &Task{
			ID:         ulid.Make().String(),
			IncidentID: inc.ID,
			Phase:      td.Phase,
			Title:      td.Title,
			Assignee:   td.Assignee,
			Sequence:   td.Sequence,
			Status:     TaskOpen,
		})
	}
	return tasks, nil
}

// parsePlaybook extracts the task list from free text. The backend may wrap
// the JSON object in prose or code fences. Tasks with an unknown phase or an
// empty title are dropped and counted.
func parsePlaybook(text string) ([]taskDraft, int, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, 0, fmt.Errorf("%w: no JSON object", errMalformedPlaybook)
	}
	raw := text[start : end+1]
	if !gjson.Valid(raw) {
		return nil, 0, fmt.Errorf("%w: invalid JSON", errMalformedPlaybook)
	}
	list := gjson.Get(raw, "tasks")
	if !list.IsArray() {
		return nil, 0, fmt.Errorf("%w: tasks is not an array", errMalformedPlaybook)
	}

	var (
		drafts  []taskDraft
		dropped int
	)
	for i, t := range list.Array() {
		phase, ok := ParseTaskPhase(t.Get("phase").String())
		if !ok {
			dropped++
			continue
		}
		title := strings.TrimSpace(t.Get("title").String())
		if title == "" {
			dropped++
			continue
		}
		assignee := strings.TrimSpace(t.Get("assignee").String())
		if assignee == "" {
			assignee = DefaultOwner
		}
		seq := i + 1
		for _, key := range []string{"sequence", "order"} {
			if v := t.Get(key); v.Type == gjson.Number {
				seq = int(v.Int())
				break
			}
		}
		drafts = append(drafts, taskDraft{
			Phase:    phase,
			Title:    title,
			Assignee: assignee,
			Sequence: seq,
		})
	}
	return drafts, dropped, nil
}

const playbookSystemPrompt = `You are an incident response lead writing remediation playbooks for a security operations center.

Respond with a single JSON object and nothing else:
{"tasks":[{"phase":"Triage","title":"...","assignee":"SOC Analyst","sequence":1}],"estimatedDuration":"4h"}

Rules:
- phase is one of Triage, Containment, Eradication, Recovery, Close
- include zero or more tasks per phase
- sequence orders tasks within a phase starting at 1
- assignee is a role, not a person
- titles are short imperative actions`

func buildPlaybookPrompt(pc *PlaybookContext) string {
	payload, _ := json.MarshalIndent(pc, "", "  ")
	return fmt.Sprintf(`Draft a response playbook for this incident.

Context:
%s

Cover each phase that applies to this priority and asset type.`, string(payload))
}
