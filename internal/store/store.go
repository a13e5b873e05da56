// Package store persists parsed automata, their replay accumulators and
// replay runs in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/flowtrace/internal/automaton"
	"github.com/danielpatrickdp/flowtrace/internal/guard"
	"github.com/danielpatrickdp/flowtrace/internal/replay"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS models (
	model_id     TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	node_count   INTEGER NOT NULL,
	edge_count   INTEGER NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_nodes (
	model_id        TEXT NOT NULL,
	position        INTEGER NOT NULL,
	node_id         TEXT NOT NULL,
	final_count     INTEGER NOT NULL,
	total_count     INTEGER NOT NULL,
	attributes_json TEXT NOT NULL,
	PRIMARY KEY (model_id, position),
	FOREIGN KEY (model_id) REFERENCES models(model_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS model_edges (
	model_id      TEXT NOT NULL,
	node_position INTEGER NOT NULL,
	seq           INTEGER NOT NULL,
	dst           TEXT NOT NULL,
	guards_json   TEXT,
	line          INTEGER,
	PRIMARY KEY (model_id, node_position, seq),
	FOREIGN KEY (model_id) REFERENCES models(model_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS observations (
	model_id      TEXT NOT NULL,
	node_position INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	values_json   TEXT NOT NULL,
	indices_json  TEXT NOT NULL,
	PRIMARY KEY (model_id, node_position, kind),
	FOREIGN KEY (model_id) REFERENCES models(model_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS replay_runs (
	run_id            TEXT PRIMARY KEY,
	model_id          TEXT NOT NULL,
	kind              TEXT NOT NULL,
	traces            INTEGER NOT NULL,
	events            INTEGER NOT NULL,
	unmatched         INTEGER NOT NULL,
	final_states_json TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	FOREIGN KEY (model_id) REFERENCES models(model_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS run_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	inputs      TEXT,
	records     INTEGER NOT NULL DEFAULT 0,
	traces      INTEGER NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL,
	reason      TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store manages persisted models in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region save-model
// SaveModel stores the structure and current accumulators of m under a
// fresh id.
func (s *Store) SaveModel(m *automaton.Model, source string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	edges := 0
	for _, n := range m.Nodes() {
		edges += len(n.Edges)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO models (model_id, source, node_count, edge_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, source, m.Len(), edges, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert model: %w", err)
	}

	for pos, n := range m.Nodes() {
		attrJSON, err := json.Marshal(n.Attributes)
		if err != nil {
			return "", fmt.Errorf("marshal attributes of %s: %w", n.ID, err)
		}
		_, err = tx.Exec(
			`INSERT INTO model_nodes (model_id, position, node_id, final_count, total_count, attributes_json)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, pos, n.ID, n.FinalCount, n.TotalCount, string(attrJSON),
		)
		if err != nil {
			return "", fmt.Errorf("insert node %s: %w", n.ID, err)
		}
		for seq, e := range n.Edges {
			var guardsPtr interface{}
			if len(e.Guards) > 0 {
				g, err := json.Marshal(e.Guards)
				if err != nil {
					return "", fmt.Errorf("marshal guards %s -> %s: %w", n.ID, e.To, err)
				}
				guardsPtr = string(g)
			}
			_, err = tx.Exec(
				`INSERT INTO model_edges (model_id, node_position, seq, dst, guards_json, line) VALUES (?, ?, ?, ?, ?, ?)`,
				id, pos, seq, e.To, guardsPtr, e.Line,
			)
			if err != nil {
				return "", fmt.Errorf("insert edge %s -> %s: %w", n.ID, e.To, err)
			}
		}
	}
	if err := insertObservations(tx, id, m); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// #endregion save-model

// #region observations
// SaveObservations replaces the stored accumulators of model id with m's.
func (s *Store) SaveObservations(id string, m *automaton.Model) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM models WHERE model_id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check model: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("model %s not found", id)
	}
	if _, err := tx.Exec(`DELETE FROM observations WHERE model_id = ?`, id); err != nil {
		return fmt.Errorf("clear observations: %w", err)
	}
	if err := insertObservations(tx, id, m); err != nil {
		return err
	}
	return tx.Commit()
}

func insertObservations(tx *sql.Tx, id string, m *automaton.Model) error {
	for pos, n := range m.Nodes() {
		for kind, acc := range n.Observed {
			vals, err := json.Marshal(acc.Values)
			if err != nil {
				return fmt.Errorf("marshal observations of %s: %w", n.ID, err)
			}
			idx, err := json.Marshal(acc.Indices)
			if err != nil {
				return fmt.Errorf("marshal indices of %s: %w", n.ID, err)
			}
			_, err = tx.Exec(
				`INSERT INTO observations (model_id, node_position, kind, values_json, indices_json) VALUES (?, ?, ?, ?, ?)`,
				id, pos, string(kind), string(vals), string(idx),
			)
			if err != nil {
				return fmt.Errorf("insert observations of %s: %w", n.ID, err)
			}
		}
	}
	return nil
}

// #endregion observations

// #region load-model
// LoadModel restores structure and accumulators of model id.
func (s *Store) LoadModel(id string) (*automaton.Model, error) {
	rows, err := s.db.Query(
		`SELECT node_id, final_count, total_count, attributes_json
		 FROM model_nodes WHERE model_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	var nodes []*automaton.Node
	for rows.Next() {
		n := &automaton.Node{Observed: map[automaton.Kind]*automaton.Observations{}}
		var attrJSON string
		if err := rows.Scan(&n.ID, &n.FinalCount, &n.TotalCount, &attrJSON); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if err := json.Unmarshal([]byte(attrJSON), &n.Attributes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal attributes of %s: %w", n.ID, err)
		}
		nodes = append(nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("model %s not found", id)
	}

	if err := s.loadEdges(id, nodes); err != nil {
		return nil, err
	}
	if err := s.loadObservations(id, nodes); err != nil {
		return nil, err
	}

	m, err := automaton.Build(nodes)
	if err != nil {
		return nil, fmt.Errorf("rebuild model %s: %w", id, err)
	}
	return m, nil
}

func (s *Store) loadEdges(id string, nodes []*automaton.Node) error {
	rows, err := s.db.Query(
		`SELECT node_position, dst, guards_json, line
		 FROM model_edges WHERE model_id = ? ORDER BY node_position, seq`, id,
	)
	if err != nil {
		return fmt.Errorf("load edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pos, line int
		var e automaton.Edge
		var guardsJSON sql.NullString
		if err := rows.Scan(&pos, &e.To, &guardsJSON, &line); err != nil {
			return fmt.Errorf("scan edge: %w", err)
		}
		if pos < 0 || pos >= len(nodes) {
			return fmt.Errorf("edge from unknown node position %d", pos)
		}
		if guardsJSON.Valid {
			var g []guard.Conjunction
			if err := json.Unmarshal([]byte(guardsJSON.String), &g); err != nil {
				return fmt.Errorf("unmarshal guards: %w", err)
			}
			e.Guards = g
		}
		e.Line = line
		nodes[pos].Edges = append(nodes[pos].Edges, e)
	}
	return rows.Err()
}

func (s *Store) loadObservations(id string, nodes []*automaton.Node) error {
	rows, err := s.db.Query(
		`SELECT node_position, kind, values_json, indices_json FROM observations WHERE model_id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pos int
		var kind, vals, idx string
		if err := rows.Scan(&pos, &kind, &vals, &idx); err != nil {
			return fmt.Errorf("scan observations: %w", err)
		}
		if pos < 0 || pos >= len(nodes) {
			return fmt.Errorf("observations for unknown node position %d", pos)
		}
		acc := &automaton.Observations{}
		if err := json.Unmarshal([]byte(vals), &acc.Values); err != nil {
			return fmt.Errorf("unmarshal observations: %w", err)
		}
		if err := json.Unmarshal([]byte(idx), &acc.Indices); err != nil {
			return fmt.Errorf("unmarshal indices: %w", err)
		}
		if acc.Values == nil {
			acc.Values = map[int][]float64{}
		}
		nodes[pos].Observed[automaton.Kind(kind)] = acc
	}
	return rows.Err()
}

// #endregion load-model

// #region list-models
// ListModels returns the most recently stored models.
func (s *Store) ListModels(limit int) ([]ModelRecord, error) {
	rows, err := s.db.Query(
		`SELECT model_id, source, node_count, edge_count, created_at
		 FROM models ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var records []ModelRecord
	for rows.Next() {
		var rec ModelRecord
		var createdStr string
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Nodes, &rec.Edges, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-models

// #region replay-runs
// RecordReplay stores a replay summary against model id.
func (s *Store) RecordReplay(modelID string, kind automaton.Kind, sum replay.Summary) (string, error) {
	runID := uuid.New().String()
	finals, err := json.Marshal(sum.FinalStates)
	if err != nil {
		return "", fmt.Errorf("marshal final states: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO replay_runs (run_id, model_id, kind, traces, events, unmatched, final_states_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, modelID, string(kind), sum.Traces, sum.Events, sum.Unmatched, string(finals),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert replay run: %w", err)
	}
	return runID, nil
}

// ListReplays returns the replay runs of model id, newest first.
func (s *Store) ListReplays(modelID string) ([]ReplayRun, error) {
	rows, err := s.db.Query(
		`SELECT run_id, model_id, kind, traces, events, unmatched, final_states_json, created_at
		 FROM replay_runs WHERE model_id = ? ORDER BY created_at DESC`, modelID,
	)
	if err != nil {
		return nil, fmt.Errorf("list replays: %w", err)
	}
	defer rows.Close()

	var runs []ReplayRun
	for rows.Next() {
		var r ReplayRun
		var finals, createdStr string
		if err := rows.Scan(&r.RunID, &r.ModelID, &r.Kind, &r.Traces, &r.Events, &r.Unmatched, &finals, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(finals), &r.FinalStates); err != nil {
			return nil, fmt.Errorf("unmarshal final states: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// #endregion replay-runs
