package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexiqai/playback-sync/internal/transcript"
)

var (
	// ErrNotFound is returned when a conversation or revision does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a correction was computed against a
	// version of the conversation that is no longer current
	ErrConflict = errors.New("conversation changed since correction was computed")
)

const schema = `
	PRAGMA busy_timeout       = 10000;
	PRAGMA journal_mode       = WAL;
	PRAGMA synchronous        = NORMAL;
	PRAGMA foreign_keys       = ON;
	PRAGMA temp_store         = MEMORY;

	create table if not exists conversations (
		id text primary key not null,
		duration_ms integer not null,
		alignment_status text not null,
		content_hash text not null,
		updated_at integer not null
	);

	create table if not exists segments (
		conversation_id text not null references conversations(id) on delete cascade,
		position integer not null,
		id text not null,
		start_ms integer not null,
		end_ms integer not null,
		speaker_id text not null default '',
		text text not null,
		metadata text,
		primary key (conversation_id, position)
	);

	create table if not exists revisions (
		id integer primary key autoincrement not null,
		conversation_id text not null references conversations(id) on delete cascade,
		content_hash text not null,
		reason text not null,
		payload text not null,
		created_at integer not null
	);

	create index if not exists revisions_conversation on revisions (conversation_id, id);`

// Revision reasons
const (
	ReasonDriftCorrection = "drift_correction"
	ReasonRestore         = "restore"
)

// Revision is a retained prior version of a conversation
type Revision struct {
	ID             int64                   `json:"revision_id"`
	ConversationID string                  `json:"conversation_id"`
	ContentHash    string                  `json:"content_hash"`
	Reason         string                  `json:"reason"`
	CreatedAt      time.Time               `json:"created_at"`
	Conversation   transcript.Conversation `json:"conversation"`
}

// Store persists conversations and their revisions in sqlite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the sqlite database at dsn and applies the schema
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// sqlite allows a single writer; one connection also keeps :memory: databases whole
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle and applies the schema
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save validates conv and replaces any stored copy
func (s *Store) Save(ctx context.Context, conv transcript.Conversation) error {
	if conv.ID == "" {
		return errors.New("saving conversation: empty conversation id")
	}
	if err := conv.Validate(); err != nil {
		return fmt.Errorf("saving conversation %s: %w", conv.ID, err)
	}

	return s.inTx(ctx, "saving conversation", func(tx *sql.Tx) error {
		return s.writeConversation(ctx, tx, conv)
	})
}

// Get loads a conversation with its segments in order
func (s *Store) Get(ctx context.Context, id string) (transcript.Conversation, error) {
	return getConversation(ctx, s.db, id)
}

// SaveCorrected stores corrected as the current version of the conversation
// and keeps original as a revision, in one transaction. It fails with
// ErrConflict when the stored conversation is no longer original.
func (s *Store) SaveCorrected(ctx context.Context, corrected, original transcript.Conversation) (Revision, error) {
	if corrected.ID == "" || corrected.ID != original.ID {
		return Revision{}, fmt.Errorf("saving corrected conversation: id mismatch %q vs %q", corrected.ID, original.ID)
	}

	var rev Revision
	err := s.inTx(ctx, "saving corrected conversation", func(tx *sql.Tx) error {
		if err := checkCurrent(ctx, tx, original); err != nil {
			return err
		}

		var err error
		rev, err = s.insertRevision(ctx, tx, original, ReasonDriftCorrection)
		if err != nil {
			return err
		}
		return s.writeConversation(ctx, tx, corrected)
	})
	return rev, err
}

// Revisions lists a conversation's retained versions, newest first
func (s *Store) Revisions(ctx context.Context, id string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, conversation_id, content_hash, reason, payload, created_at
		from revisions
		where conversation_id = $1
		order by id desc`, id)
	if err != nil {
		return nil, fmt.Errorf("listing revisions %s: %w", id, err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing revisions %s: %w", id, err)
	}
	return out, nil
}

// Restore reinstates a revision as the current version. The version being
// replaced is itself kept as a revision.
func (s *Store) Restore(ctx context.Context, id string, revisionID int64) (transcript.Conversation, error) {
	var restored transcript.Conversation
	err := s.inTx(ctx, "restoring revision", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			select id, conversation_id, content_hash, reason, payload, created_at
			from revisions
			where id = $1 and conversation_id = $2`, revisionID, id)
		rev, err := scanRevision(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("revision %d of %s: %w", revisionID, id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		current, err := getConversation(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := s.insertRevision(ctx, tx, current, ReasonRestore); err != nil {
			return err
		}

		restored = rev.Conversation
		return s.writeConversation(ctx, tx, restored)
	})
	return restored, err
}

// checkCurrent verifies the stored row, if any, still holds expected
func checkCurrent(ctx context.Context, tx *sql.Tx, expected transcript.Conversation) error {
	var storedHash, storedStatus string
	err := tx.
		QueryRowContext(ctx, "select content_hash, alignment_status from conversations where id = $1", expected.ID).
		Scan(&storedHash, &storedStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading current version: %w", err)
	}

	hash, err := transcript.ContentHash(expected)
	if err != nil {
		return err
	}
	if storedHash != hash || storedStatus != string(expected.AlignmentStatus) {
		return fmt.Errorf("conversation %s: %w", expected.ID, ErrConflict)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin trx: %w", op, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%s: rollback: %w", op, errors.Join(err, rbErr))
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: committing: %w", op, err)
	}
	return nil
}

func (s *Store) writeConversation(ctx context.Context, tx *sql.Tx, conv transcript.Conversation) error {
	hash, err := transcript.ContentHash(conv)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		insert into conversations (id, duration_ms, alignment_status, content_hash, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (id) do update set
			duration_ms = excluded.duration_ms,
			alignment_status = excluded.alignment_status,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at`,
		conv.ID, conv.DurationMs, string(conv.AlignmentStatus), hash, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "delete from segments where conversation_id = $1", conv.ID); err != nil {
		return fmt.Errorf("clearing segments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		insert into segments (conversation_id, position, id, start_ms, end_ms, speaker_id, text, metadata)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("preparing segment insert: %w", err)
	}
	defer stmt.Close()

	for i, seg := range conv.Segments {
		var metadata sql.NullString
		if len(seg.Metadata) > 0 {
			raw, err := json.Marshal(seg.Metadata)
			if err != nil {
				return fmt.Errorf("encoding segment %s metadata: %w", seg.ID, err)
			}
			metadata = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, conv.ID, i, seg.ID, seg.StartMs, seg.EndMs, seg.SpeakerID, seg.Text, metadata); err != nil {
			return fmt.Errorf("inserting segment %s: %w", seg.ID, err)
		}
	}
	return nil
}

func (s *Store) insertRevision(ctx context.Context, tx *sql.Tx, conv transcript.Conversation, reason string) (Revision, error) {
	hash, err := transcript.ContentHash(conv)
	if err != nil {
		return Revision{}, err
	}
	payload, err := json.Marshal(conv)
	if err != nil {
		return Revision{}, fmt.Errorf("encoding revision: %w", err)
	}

	rev := Revision{
		ConversationID: conv.ID,
		ContentHash:    hash,
		Reason:         reason,
		CreatedAt:      s.now().UTC().Truncate(time.Millisecond),
		Conversation:   conv,
	}

	// the revision references the conversation row, which may not exist yet
	_, err = tx.ExecContext(ctx, `
		insert into conversations (id, duration_ms, alignment_status, content_hash, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (id) do nothing`,
		conv.ID, conv.DurationMs, string(conv.AlignmentStatus), hash, rev.CreatedAt.UnixMilli())
	if err != nil {
		return Revision{}, fmt.Errorf("ensuring conversation row: %w", err)
	}

	err = tx.
		QueryRowContext(
			ctx,
			`insert into revisions (conversation_id, content_hash, reason, payload, created_at)
			values ($1, $2, $3, $4, $5) returning id`,
			conv.ID, hash, reason, string(payload), rev.CreatedAt.UnixMilli(),
		).
		Scan(&rev.ID)
	if err != nil {
		return Revision{}, fmt.Errorf("inserting revision: %w", err)
	}
	return rev, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getConversation(ctx context.Context, q querier, id string) (transcript.Conversation, error) {
	conv := transcript.Conversation{ID: id}

	var status string
	err := q.
		QueryRowContext(ctx, "select duration_ms, alignment_status from conversations where id = $1", id).
		Scan(&conv.DurationMs, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return conv, fmt.Errorf("get conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return conv, fmt.Errorf("get conversation %s: %w", id, err)
	}
	conv.AlignmentStatus = transcript.AlignmentStatus(status)

	rows, err := q.QueryContext(ctx, `
		select id, start_ms, end_ms, speaker_id, text, metadata
		from segments
		where conversation_id = $1
		order by position`, id)
	if err != nil {
		return conv, fmt.Errorf("get segments %s: %w", id, err)
	}
	defer rows.Close()

	conv.Segments = []transcript.Segment{}
	for rows.Next() {
		var seg transcript.Segment
		var metadata sql.NullString
		if err := rows.Scan(&seg.ID, &seg.StartMs, &seg.EndMs, &seg.SpeakerID, &seg.Text, &metadata); err != nil {
			return conv, fmt.Errorf("scanning segment: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &seg.Metadata); err != nil {
				return conv, fmt.Errorf("decoding segment %s metadata: %w", seg.ID, err)
			}
		}
		conv.Segments = append(conv.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return conv, fmt.Errorf("get segments %s: %w", id, err)
	}
	return conv, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRevision(row scanner) (Revision, error) {
	var rev Revision
	var payload string
	var createdAt int64
	if err := row.Scan(&rev.ID, &rev.ConversationID, &rev.ContentHash, &rev.Reason, &payload, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rev, err
		}
		return rev, fmt.Errorf("scanning revision: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &rev.Conversation); err != nil {
		return rev, fmt.Errorf("decoding revision %d: %w", rev.ID, err)
	}
	rev.CreatedAt = time.UnixMilli(createdAt).UTC()
	return rev, nil
}
