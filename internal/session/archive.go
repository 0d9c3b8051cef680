package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codeloom-ai/codeloom/internal/tools"
)

// Archive persists finished message streams to SQLite so conversations
// survive a backend restart. The live Store stays the source of truth for
// in-flight turns; the archive is written after a turn completes and read
// when a known session ID shows up with no live state.
type Archive struct {
	db     *sql.DB
	dbPath string
}

// NewArchive opens (or creates) the archive database at dbPath
func NewArchive(dbPath string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	a := &Archive{db: db, dbPath: dbPath}
	if err := a.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	return a, nil
}

// Close closes the underlying database
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_key TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		compacted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS parts (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		position INTEGER NOT NULL,
		text TEXT,
		tool_name TEXT,
		parameters TEXT,
		state TEXT,
		output TEXT,
		error TEXT,
		summary TEXT,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_parts_message ON parts(message_id);
	`
	_, err := a.db.Exec(schema)
	return err
}

// SaveSession upserts the session row and every message not yet stored.
// Messages are immutable once a turn ends, so existing rows are replaced
// wholesale; that also covers pruned tool output and backfilled summaries.
func (a *Archive) SaveSession(sess *Session) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO sessions (id, project_key) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.ProjectKey,
	); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}

	for _, msg := range sess.Messages() {
		if err := saveMessageTx(tx, msg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func saveMessageTx(tx *sql.Tx, msg *Message) error {
	if _, err := tx.Exec(
		`INSERT INTO messages (id, session_id, role, compacted, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET compacted = excluded.compacted`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Compacted, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
	}

	for i, part := range msg.Parts {
		if err := savePartTx(tx, msg.ID, i, part); err != nil {
			return err
		}
	}
	return nil
}

func savePartTx(tx *sql.Tx, messageID string, position int, part Part) error {
	switch p := part.(type) {
	case *TextPart:
		_, err := tx.Exec(
			`INSERT INTO parts (id, message_id, kind, position, text) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET text = excluded.text`,
			p.ID, messageID, string(KindText), position, p.Text,
		)
		if err != nil {
			return fmt.Errorf("failed to save text part %s: %w", p.ID, err)
		}
	case *ToolPart:
		params := ""
		if len(p.Parameters) > 0 {
			raw, err := json.Marshal(p.Parameters)
			if err != nil {
				return fmt.Errorf("failed to encode parameters of part %s: %w", p.ID, err)
			}
			params = string(raw)
		}
		output := ""
		if p.Result != nil {
			output = p.Result.Output
		}
		_, err := tx.Exec(
			`INSERT INTO parts (id, message_id, kind, position, tool_name, parameters, state, output, error, summary)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   state = excluded.state, output = excluded.output,
			   error = excluded.error, summary = excluded.summary`,
			p.ID, messageID, string(KindTool), position,
			p.ToolName, params, string(p.State), output, p.Error, p.Summary,
		)
		if err != nil {
			return fmt.Errorf("failed to save tool part %s: %w", p.ID, err)
		}
	}
	return nil
}

// LoadSession rebuilds a session from the archive. Returns (nil, nil) when
// the ID is unknown. The restored session is idle with no stop flag.
func (a *Archive) LoadSession(id string) (*Session, error) {
	var projectKey string
	err := a.db.QueryRow(`SELECT project_key FROM sessions WHERE id = ?`, id).Scan(&projectKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	sess := New(id, projectKey)

	rows, err := a.db.Query(
		`SELECT id, role, compacted, created_at FROM messages WHERE session_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg Message
		var role string
		var createdAt time.Time
		if err := rows.Scan(&msg.ID, &role, &msg.Compacted, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.SessionID = id
		msg.Role = Role(role)
		msg.CreatedAt = createdAt

		if err := a.loadParts(&msg); err != nil {
			return nil, err
		}
		sess.AddMessage(&msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages of %s: %w", id, err)
	}
	return sess, nil
}

func (a *Archive) loadParts(msg *Message) error {
	rows, err := a.db.Query(
		`SELECT id, kind, text, tool_name, parameters, state, output, error, summary
		 FROM parts WHERE message_id = ? ORDER BY position`, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to load parts of %s: %w", msg.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, kind string
		var text, toolName, params, state, output, errText, summary sql.NullString
		if err := rows.Scan(&id, &kind, &text, &toolName, &params, &state, &output, &errText, &summary); err != nil {
			return fmt.Errorf("failed to scan part: %w", err)
		}

		switch PartKind(kind) {
		case KindText:
			msg.AddPart(&TextPart{
				ID:        id,
				MessageID: msg.ID,
				SessionID: msg.SessionID,
				Text:      text.String,
			})
		case KindTool:
			part := &ToolPart{
				ID:        id,
				MessageID: msg.ID,
				SessionID: msg.SessionID,
				ToolName:  toolName.String,
				State:     ToolState(state.String),
				Error:     errText.String,
				Summary:   summary.String,
			}
			if params.String != "" {
				if err := json.Unmarshal([]byte(params.String), &part.Parameters); err != nil {
					return fmt.Errorf("failed to decode parameters of part %s: %w", id, err)
				}
			}
			if output.String != "" || part.State == StateCompleted {
				part.Result = &tools.Result{
					Success: part.State == StateCompleted,
					Output:  output.String,
					Error:   errText.String,
				}
			}
			msg.AddPart(part)
		}
	}
	return rows.Err()
}

// Sessions lists archived session IDs for a project, newest first
func (a *Archive) Sessions(projectKey string) ([]string, error) {
	rows, err := a.db.Query(
		`SELECT id FROM sessions WHERE project_key = ? ORDER BY created_at DESC`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a session and its messages from the archive
func (a *Archive) Delete(id string) error {
	if _, err := a.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}
