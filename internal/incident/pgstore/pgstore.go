// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/respond/internal/incident"
	"github.com/linnemanlabs/respond/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/respond/internal/incident/pgstore")

//go:embed schema.sql
var schema string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	humanNumberConstraint = "incidents_human_number_key"
)

// Store persists incidents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ incident.Store = (*Store)(nil)

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	ctx = postgres.WithOperation(ctx, name)
	return tracer.Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

// fail records err on span and returns it.
func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// NextIncidentNumber draws from the incident_number_seq sequence.
func (s *Store) NextIncidentNumber(ctx context.Context) (int64, error) {
	ctx, span := startSpan(ctx, "NextIncidentNumber", "SELECT")
	defer span.End()

	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('incident_number_seq')`).Scan(&n); err != nil {
		return 0, fail(span, fmt.Errorf("nextval: %w", err))
	}
	return n, nil
}

// MaxIncidentNumber returns the highest ordinal already assigned, or 0.
// Used to seed an external sequencer.
func (s *Store) MaxIncidentNumber(ctx context.Context) (int64, error) {
	ctx, span := startSpan(ctx, "MaxIncidentNumber", "SELECT")
	defer span.End()

	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(substring(human_number FROM 5)::BIGINT), 0) FROM incidents WHERE human_number ~ '^INC-[0-9]+$'`,
	).Scan(&n)
	if err != nil {
		return 0, fail(span, fmt.Errorf("max incident number: %w", err))
	}
	return n, nil
}

// UpsertDetection writes a detection. Detections are owned by the upstream
// pipeline; this exists for loaders and tests.
func (s *Store) UpsertDetection(ctx context.Context, d *incident.Detection) error {
	ctx, span := startSpan(ctx, "UpsertDetection", "UPSERT")
	defer span.End()

	tags := d.TechniqueTags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO detections (id, source, indicator, technique_tags, severity, confidence, asset_id, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			source         = EXCLUDED.source,
			indicator      = EXCLUDED.indicator,
			technique_tags = EXCLUDED.technique_tags,
			severity       = EXCLUDED.severity,
			confidence     = EXCLUDED.confidence,
			asset_id       = EXCLUDED.asset_id,
			last_seen      = EXCLUDED.last_seen`,
		d.ID, d.Source, d.Indicator, tags, d.Severity, d.Confidence, d.AssetID, d.LastSeen,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert detection %s: %w", d.ID, err))
	}
	return nil
}

// UpsertAsset writes an asset.
func (s *Store) UpsertAsset(ctx context.Context, a *incident.Asset) error {
	ctx, span := startSpan(ctx, "UpsertAsset", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO assets (id, name, asset_type) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, asset_type = EXCLUDED.asset_type`,
		a.ID, a.Name, a.Type,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert asset %s: %w", a.ID, err))
	}
	return nil
}

const detectionColumns = `id, source, indicator, technique_tags, severity, confidence, asset_id, last_seen`

func (s *Store) GetDetections(ctx context.Context, ids []string) ([]*incident.Detection, error) {
	ctx, span := startSpan(ctx, "GetDetections", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+detectionColumns+` FROM detections WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query detections: %w", err))
	}
	dets, err := collectDetections(rows)
	if err != nil {
		return nil, fail(span, err)
	}
	return dets, nil
}

func (s *Store) ListDetectionsSeenSince(ctx context.Context, since time.Time) ([]*incident.Detection, error) {
	ctx, span := startSpan(ctx, "ListDetectionsSeenSince", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+detectionColumns+` FROM detections WHERE last_seen >= $1 ORDER BY last_seen DESC`, since)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query detections: %w", err))
	}
	dets, err := collectDetections(rows)
	if err != nil {
		return nil, fail(span, err)
	}
	return dets, nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (*incident.Asset, bool, error) {
	ctx, span := startSpan(ctx, "GetAsset", "SELECT")
	defer span.End()

	var a incident.Asset
	err := s.pool.QueryRow(ctx, `SELECT id, name, asset_type FROM assets WHERE id = $1`, id).Scan(&a.ID, &a.Name, &a.Type)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get asset %s: %w", id, err))
	}
	return &a, true, nil
}

func (s *Store) GetLink(ctx context.Context, detectionID string) (*incident.Link, bool, error) {
	ctx, span := startSpan(ctx, "GetLink", "SELECT")
	defer span.End()

	var (
		l   incident.Link
		typ string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT detection_id, incident_id, linkage_type, linked_at FROM detection_incident_links WHERE detection_id = $1`,
		detectionID,
	).Scan(&l.DetectionID, &l.IncidentID, &typ, &l.LinkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get link %s: %w", detectionID, err))
	}
	l.Type = incident.LinkageType(typ)
	return &l, true, nil
}

// InsertLink relies on the detection_id primary key to enforce one link
// per detection.
func (s *Store) InsertLink(ctx context.Context, link *incident.Link, ev *incident.TimelineEvent) error {
	ctx, span := startSpan(ctx, "InsertLink", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	// FOR SHARE holds off a concurrent close until this link commits.
	var phase string
	err = tx.QueryRow(ctx,
		`SELECT phase FROM incidents WHERE id = $1 FOR SHARE`,
		link.IncidentID,
	).Scan(&phase)
	if errors.Is(err, pgx.ErrNoRows) {
		return fail(span, fmt.Errorf("incident %s: %w", link.IncidentID, incident.ErrNotFound))
	}
	if err != nil {
		return fail(span, fmt.Errorf("lock incident %s: %w", link.IncidentID, err))
	}
	if incident.Phase(phase) == incident.PhaseClosed {
		return fmt.Errorf("incident %s: %w", link.IncidentID, incident.ErrIncidentClosed)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO detection_incident_links (detection_id, incident_id, linkage_type, linked_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (detection_id) DO NOTHING`,
		link.DetectionID, link.IncidentID, string(link.Type), link.LinkedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fail(span, fmt.Errorf("incident %s: %w", link.IncidentID, incident.ErrNotFound))
		}
		return fail(span, fmt.Errorf("insert link %s: %w", link.DetectionID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("detection %s: %w", link.DetectionID, incident.ErrAlreadyLinked)
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) ListCorrelationCandidates(ctx context.Context, assetID string, since time.Time) ([]*incident.Candidate, error) {
	ctx, span := startSpan(ctx, "ListCorrelationCandidates", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT i.id, i.opened_at,
		        d.id, d.source, d.indicator, d.technique_tags, d.severity, d.confidence, d.asset_id, d.last_seen
		 FROM incidents i
		 LEFT JOIN detection_incident_links l ON l.incident_id = i.id
		 LEFT JOIN detections d ON d.id = l.detection_id
		 WHERE i.primary_asset_id = $1 AND i.phase <> 'Closed' AND i.opened_at >= $2
		 ORDER BY i.opened_at DESC, i.id`,
		assetID, since,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query candidates: %w", err))
	}
	defer rows.Close()

	var (
		out   []*incident.Candidate
		index = make(map[string]*incident.Candidate)
	)
	for rows.Next() {
		var (
			incID    string
			openedAt time.Time
			detID    *string
			source   *string
			ind      *string
			tags     []string
			sev      *int
			conf     *int
			asset    *string
			lastSeen *time.Time
		)
		if err := rows.Scan(&incID, &openedAt, &detID, &source, &ind, &tags, &sev, &conf, &asset, &lastSeen); err != nil {
			return nil, fail(span, fmt.Errorf("scan candidate: %w", err))
		}
		c, ok := index[incID]
		if !ok {
			c = &incident.Candidate{IncidentID: incID, OpenedAt: openedAt}
			index[incID] = c
			out = append(out, c)
		}
		// links may reference detections the upstream pipeline has not
		// written; those cannot match a fingerprint
		if detID == nil || ind == nil {
			continue
		}
		d := &incident.Detection{
			ID:            *detID,
			Indicator:     *ind,
			TechniqueTags: tags,
			AssetID:       asset,
		}
		if source != nil {
			d.Source = *source
		}
		if sev != nil {
			d.Severity = *sev
		}
		if conf != nil {
			d.Confidence = *conf
		}
		if lastSeen != nil {
			d.LastSeen = *lastSeen
		}
		c.Detections = append(c.Detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate candidates: %w", err))
	}
	return out, nil
}

// CreateIncident inserts the incident and its opened event in one
// transaction. The human_number unique constraint backstops the sequencer.
func (s *Store) CreateIncident(ctx context.Context, inc *incident.Incident, opened *incident.TimelineEvent) error {
	ctx, span := startSpan(ctx, "CreateIncident", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO incidents (
			id, human_number, title, priority_tier, phase, owner, primary_asset_id, linked_risk_ids,
			sla_due_at, sla_breached, summary, root_cause, lessons_learned, tags, opened_at, closed_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		inc.ID, inc.Number, inc.Title, string(inc.Tier), string(inc.Phase), inc.Owner, inc.PrimaryAssetID,
		nonNil(inc.LinkedRiskIDs), inc.SLADueAt, inc.SLABreached, inc.Summary, inc.RootCause,
		inc.LessonsLearned, nonNil(inc.Tags), inc.OpenedAt, inc.ClosedAt, inc.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == humanNumberConstraint {
			return fail(span, fmt.Errorf("number %s: %w", inc.Number, incident.ErrNumberAllocationConflict))
		}
		return fail(span, fmt.Errorf("insert incident: %w", err))
	}

	if err := insertEvent(ctx, tx, opened); err != nil {
		return fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

const incidentColumns = `i.id, i.human_number, i.title, i.priority_tier, i.phase, i.owner, i.primary_asset_id,
	ARRAY(SELECT l.detection_id FROM detection_incident_links l WHERE l.incident_id = i.id ORDER BY l.detection_id),
	i.linked_risk_ids, i.sla_due_at, i.sla_breached, i.summary, i.root_cause, i.lessons_learned, i.tags,
	i.opened_at, i.closed_at, i.updated_at`

func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "GetIncident", "SELECT")
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents i WHERE i.id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// UpdateIncident is a compare-and-set on phase.
func (s *Store) UpdateIncident(ctx context.Context, inc *incident.Incident, prevPhase incident.Phase, ev *incident.TimelineEvent) error {
	ctx, span := startSpan(ctx, "UpdateIncident", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx,
		`UPDATE incidents SET
			title           = $3,
			priority_tier   = $4,
			phase           = $5,
			owner           = $6,
			linked_risk_ids = $7,
			sla_due_at      = $8,
			sla_breached    = $9,
			summary         = $10,
			root_cause      = $11,
			lessons_learned = $12,
			tags            = $13,
			closed_at       = $14,
			updated_at      = $15
		 WHERE id = $1 AND phase = $2`,
		inc.ID, string(prevPhase), inc.Title, string(inc.Tier), string(inc.Phase), inc.Owner,
		nonNil(inc.LinkedRiskIDs), inc.SLADueAt, inc.SLABreached, inc.Summary, inc.RootCause,
		inc.LessonsLearned, nonNil(inc.Tags), inc.ClosedAt, inc.UpdatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("update incident %s: %w", inc.ID, err))
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, inc.ID).Scan(&exists); err != nil {
			return fail(span, fmt.Errorf("check incident %s: %w", inc.ID, err))
		}
		if !exists {
			return fmt.Errorf("incident %s: %w", inc.ID, incident.ErrNotFound)
		}
		return fmt.Errorf("incident %s left %s: %w", inc.ID, prevPhase, incident.ErrStalePhase)
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) ListBreachCandidates(ctx context.Context, now time.Time) ([]*incident.Incident, error) {
	ctx, span := startSpan(ctx, "ListBreachCandidates", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents i
		 WHERE i.phase <> 'Closed' AND NOT i.sla_breached AND i.sla_due_at < $1
		 ORDER BY i.sla_due_at`,
		now,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query breach candidates: %w", err))
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate breach candidates: %w", err))
	}
	return out, nil
}

// InsertTasks writes the batch in one transaction. The identity column
// preserves insertion order for tasks sharing a phase and sequence.
func (s *Store) InsertTasks(ctx context.Context, tasks []*incident.Task) error {
	ctx, span := startSpan(ctx, "InsertTasks", "INSERT")
	defer span.End()
	span.SetAttributes(attribute.Int("db.batch.size", len(tasks)))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	batch := &pgx.Batch{}
	for _, t := range tasks {
		batch.Queue(
			`INSERT INTO incident_tasks (id, incident_id, phase, title, assignee, sequence, status, due_at, notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			t.ID, t.IncidentID, string(t.Phase), t.Title, t.Assignee, t.Sequence, string(t.Status), t.DueAt, t.Notes,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range tasks {
		if _, err := br.Exec(); err != nil {
			br.Close() //nolint:errcheck // first error already captured
			return fail(span, fmt.Errorf("insert task %d: %w", i, err))
		}
	}
	if err := br.Close(); err != nil {
		return fail(span, fmt.Errorf("close batch: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

const taskColumns = `id, incident_id, phase, title, assignee, sequence, status, due_at, notes`

func (s *Store) ListTasks(ctx context.Context, incidentID string) ([]*incident.Task, error) {
	ctx, span := startSpan(ctx, "ListTasks", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM incident_tasks
		 WHERE incident_id = $1
		 ORDER BY COALESCE(array_position(ARRAY['Triage','Containment','Eradication','Recovery','Close']::TEXT[], phase), 99),
		          sequence, position`,
		incidentID,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query tasks: %w", err))
	}
	defer rows.Close()

	out := []*incident.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate tasks: %w", err))
	}
	return out, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*incident.Task, bool, error) {
	ctx, span := startSpan(ctx, "GetTask", "SELECT")
	defer span.End()

	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM incident_tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return t, true, nil
}

func (s *Store) UpdateTask(ctx context.Context, task *incident.Task, ev *incident.TimelineEvent) error {
	ctx, span := startSpan(ctx, "UpdateTask", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx,
		`UPDATE incident_tasks SET status = $2, assignee = $3, due_at = $4, notes = $5 WHERE id = $1`,
		task.ID, string(task.Status), task.Assignee, task.DueAt, task.Notes,
	)
	if err != nil {
		return fail(span, fmt.Errorf("update task %s: %w", task.ID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", task.ID, incident.ErrNotFound)
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) ListTimeline(ctx context.Context, incidentID string) ([]*incident.TimelineEvent, error) {
	ctx, span := startSpan(ctx, "ListTimeline", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT incident_id, ts, actor, event_type, detail FROM incident_timeline
		 WHERE incident_id = $1 ORDER BY ts DESC, id DESC`,
		incidentID,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query timeline: %w", err))
	}
	defer rows.Close()

	out := []*incident.TimelineEvent{}
	for rows.Next() {
		var (
			ev         incident.TimelineEvent
			detailJSON []byte
		)
		if err := rows.Scan(&ev.IncidentID, &ev.Timestamp, &ev.Actor, &ev.EventType, &detailJSON); err != nil {
			return nil, fail(span, fmt.Errorf("scan timeline: %w", err))
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &ev.Detail); err != nil {
				return nil, fail(span, fmt.Errorf("unmarshal detail: %w", err))
			}
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate timeline: %w", err))
	}
	return out, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev *incident.TimelineEvent) error {
	if ev == nil {
		return nil
	}
	var detail []byte
	if ev.Detail != nil {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("marshal %s detail: %w", ev.EventType, err)
		}
		detail = b
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO incident_timeline (incident_id, ts, actor, event_type, detail) VALUES ($1, $2, $3, $4, $5)`,
		ev.IncidentID, ev.Timestamp, ev.Actor, ev.EventType, detail,
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.EventType, err)
	}
	return nil
}

func collectDetections(rows pgx.Rows) ([]*incident.Detection, error) {
	defer rows.Close()
	var out []*incident.Detection
	for rows.Next() {
		var d incident.Detection
		if err := rows.Scan(&d.ID, &d.Source, &d.Indicator, &d.TechniqueTags, &d.Severity, &d.Confidence, &d.AssetID, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return out, nil
}

// scanIncident returns (nil, nil) when no row is found.
func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc   incident.Incident
		tier  string
		phase string
	)
	err := row.Scan(
		&inc.ID, &inc.Number, &inc.Title, &tier, &phase, &inc.Owner, &inc.PrimaryAssetID,
		&inc.LinkedDetectionIDs, &inc.LinkedRiskIDs, &inc.SLADueAt, &inc.SLABreached, &inc.Summary,
		&inc.RootCause, &inc.LessonsLearned, &inc.Tags, &inc.OpenedAt, &inc.ClosedAt, &inc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	inc.Tier = incident.Tier(tier)
	inc.Phase = incident.Phase(phase)
	return &inc, nil
}

func scanTask(row pgx.Row) (*incident.Task, error) {
	var (
		t      incident.Task
		phase  string
		status string
	)
	if err := row.Scan(&t.ID, &t.IncidentID, &phase, &t.Title, &t.Assignee, &t.Sequence, &status, &t.DueAt, &t.Notes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Phase = incident.TaskPhase(phase)
	t.Status = incident.TaskStatus(status)
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
