// Package index is the node's sqlite-backed record index and message log.
//
// The index holds one row per record pointing at its latest accepted
// revision; the log holds every accepted message envelope in arrival order,
// which is what replication cursors walk.
package index

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openwebnode/dwn/message"
)

var ErrNotFound = errors.New("index: not found")

type Index struct {
	db     *sql.DB
	ownsDB bool
}

// Entry is the latest-revision view of a record.
type Entry struct {
	RecordID         string `json:"recordId"`
	MessageCID       string `json:"messageCid"`
	DataCID          string `json:"dataCid,omitempty"`
	Protocol         string `json:"protocol"`
	ProtocolPath     string `json:"protocolPath"`
	Schema           string `json:"schema,omitempty"`
	DataFormat       string `json:"dataFormat,omitempty"`
	Author           string `json:"author"`
	Recipient        string `json:"recipient,omitempty"`
	ParentID         string `json:"parentId,omitempty"`
	ContextID        string `json:"contextId,omitempty"`
	Published        bool   `json:"published,omitempty"`
	MessageTimestamp string `json:"messageTimestamp"`
	Tombstone        bool   `json:"tombstone,omitempty"`
}

// Filter selects records; zero values match everything.
type Filter struct {
	RecordID     string
	Protocol     string
	ProtocolPath string
	ContextID    string
	ParentID     string
}

// LogEntry is one accepted message in the append-only log. Origin names the
// last sync peer seen holding the message, empty until one is.
type LogEntry struct {
	Seq        int64
	MessageCID string
	RecordID   string
	Envelope   []byte
	Origin     string
}

// Open opens (creating if needed) an index database at path.
func Open(path string) (*Index, error) {
	if path == "" {
		return nil, errors.New("index: database path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	ix := &Index{db: db, ownsDB: true}
	if err := ix.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

// Wrap builds an index on an existing database handle; the caller owns it.
func Wrap(db *sql.DB) (*Index, error) {
	ix := &Index{db: db}
	if err := ix.init(); err != nil {
		return nil, err
	}
	return ix, nil
}

func (ix *Index) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			record_id         TEXT NOT NULL PRIMARY KEY,
			message_cid       TEXT NOT NULL,
			data_cid          TEXT,
			protocol          TEXT NOT NULL,
			protocol_path     TEXT NOT NULL,
			schema            TEXT,
			data_format       TEXT,
			author            TEXT NOT NULL,
			recipient         TEXT,
			parent_id         TEXT,
			context_id        TEXT,
			published         INTEGER NOT NULL DEFAULT 0,
			message_timestamp TEXT NOT NULL,
			tombstone         INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS records_by_context ON records (protocol, context_id)`,
		`CREATE INDEX IF NOT EXISTS records_by_parent ON records (parent_id)`,
		`CREATE TABLE IF NOT EXISTS protocols (
			uri        TEXT NOT NULL PRIMARY KEY,
			cid        TEXT NOT NULL,
			definition BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			message_cid TEXT NOT NULL UNIQUE,
			record_id   TEXT,
			envelope    BLOB NOT NULL,
			origin      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS sync_cursors (
			peer       TEXT NOT NULL PRIMARY KEY,
			pushed_seq INTEGER NOT NULL DEFAULT 0,
			pulled_seq INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, s := range stmts {
		if _, err := ix.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) Close() error {
	if !ix.ownsDB {
		return nil
	}
	return ix.db.Close()
}

// UpsertRecord replaces the latest-revision row for a record.
func (ix *Index) UpsertRecord(ctx context.Context, e Entry) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO records
		 (record_id, message_cid, data_cid, protocol, protocol_path, schema, data_format,
		  author, recipient, parent_id, context_id, published, message_timestamp, tombstone)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RecordID, e.MessageCID, e.DataCID, e.Protocol, e.ProtocolPath, e.Schema, e.DataFormat,
		e.Author, e.Recipient, e.ParentID, e.ContextID, boolInt(e.Published), e.MessageTimestamp, boolInt(e.Tombstone),
	)
	return err
}

// GetRecord returns the latest-revision row for a record, tombstoned or not.
func (ix *Index) GetRecord(ctx context.Context, recordID string) (*Entry, error) {
	row := ix.db.QueryRowContext(ctx,
		`SELECT record_id, message_cid, data_cid, protocol, protocol_path, schema, data_format,
		        author, recipient, parent_id, context_id, published, message_timestamp, tombstone
		 FROM records WHERE record_id = ?`, recordID)
	return scanEntry(row)
}

// Query returns matching records ordered newest-first by
// (message_timestamp, message_cid).
func (ix *Index) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT record_id, message_cid, data_cid, protocol, protocol_path, schema, data_format,
	             author, recipient, parent_id, context_id, published, message_timestamp, tombstone
	      FROM records WHERE 1=1`
	var args []interface{}
	if f.RecordID != "" {
		q += ` AND record_id = ?`
		args = append(args, f.RecordID)
	}
	if f.Protocol != "" {
		q += ` AND protocol = ?`
		args = append(args, f.Protocol)
	}
	if f.ProtocolPath != "" {
		q += ` AND protocol_path = ?`
		args = append(args, f.ProtocolPath)
	}
	if f.ContextID != "" {
		q += ` AND context_id = ?`
		args = append(args, f.ContextID)
	}
	if f.ParentID != "" {
		q += ` AND parent_id = ?`
		args = append(args, f.ParentID)
	}
	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var published, tombstone int
		if err := rows.Scan(&e.RecordID, &e.MessageCID, &e.DataCID, &e.Protocol, &e.ProtocolPath,
			&e.Schema, &e.DataFormat, &e.Author, &e.Recipient, &e.ParentID, &e.ContextID,
			&published, &e.MessageTimestamp, &tombstone); err != nil {
			return nil, err
		}
		e.Published = published != 0
		e.Tombstone = tombstone != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RFC3339Nano strings with fractional seconds do not collate
	// chronologically as bytes, so ordering happens here rather than in SQL.
	sort.SliceStable(out, func(i, j int) bool {
		return message.CompareRevisions(out[i].MessageTimestamp, out[i].MessageCID,
			out[j].MessageTimestamp, out[j].MessageCID) > 0
	})
	return out, nil
}

// InstallProtocol records an installed protocol definition.
func (ix *Index) InstallProtocol(ctx context.Context, uri, cid string, definition []byte) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO protocols (uri, cid, definition) VALUES (?, ?, ?)`,
		uri, cid, definition)
	return err
}

// GetProtocol returns the installed definition for a protocol URI.
func (ix *Index) GetProtocol(ctx context.Context, uri string) (cid string, definition []byte, err error) {
	err = ix.db.QueryRowContext(ctx,
		`SELECT cid, definition FROM protocols WHERE uri = ?`, uri).Scan(&cid, &definition)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	return cid, definition, err
}

// ListProtocols returns the installed protocol URIs, sorted.
func (ix *Index) ListProtocols(ctx context.Context) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT uri FROM protocols ORDER BY uri`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		out = append(out, uri)
	}
	return out, rows.Err()
}

// AppendMessage appends an accepted envelope to the log. Appending the same
// message CID twice is a no-op returning the original sequence number.
func (ix *Index) AppendMessage(ctx context.Context, messageCID, recordID string, envelope []byte) (int64, error) {
	if _, err := ix.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (message_cid, record_id, envelope) VALUES (?, ?, ?)`,
		messageCID, recordID, envelope); err != nil {
		return 0, err
	}
	var seq int64
	err := ix.db.QueryRowContext(ctx,
		`SELECT seq FROM messages WHERE message_cid = ?`, messageCID).Scan(&seq)
	return seq, err
}

// SetMessageOrigin marks a logged message as having arrived from a sync
// peer, so replication does not offer it back to that peer.
func (ix *Index) SetMessageOrigin(ctx context.Context, messageCID, origin string) error {
	_, err := ix.db.ExecContext(ctx,
		`UPDATE messages SET origin = ? WHERE message_cid = ?`, origin, messageCID)
	return err
}

// HasMessage reports whether the log already holds a message.
func (ix *Index) HasMessage(ctx context.Context, messageCID string) (bool, error) {
	var one int
	err := ix.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE message_cid = ?`, messageCID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// GetMessage returns a logged envelope by message CID.
func (ix *Index) GetMessage(ctx context.Context, messageCID string) ([]byte, error) {
	var envelope []byte
	err := ix.db.QueryRowContext(ctx,
		`SELECT envelope FROM messages WHERE message_cid = ?`, messageCID).Scan(&envelope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return envelope, err
}

// MessagesSince returns up to limit log entries with seq > after, oldest
// first. limit <= 0 means no limit.
func (ix *Index) MessagesSince(ctx context.Context, after int64, limit int) ([]LogEntry, error) {
	q := `SELECT seq, message_cid, record_id, envelope, origin FROM messages WHERE seq > ? ORDER BY seq`
	args := []interface{}{after}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var le LogEntry
		if err := rows.Scan(&le.Seq, &le.MessageCID, &le.RecordID, &le.Envelope, &le.Origin); err != nil {
			return nil, err
		}
		out = append(out, le)
	}
	return out, rows.Err()
}

// Cursor returns the replication cursors for a peer (zero values when the
// peer is new).
func (ix *Index) Cursor(ctx context.Context, peer string) (pushed, pulled int64, err error) {
	err = ix.db.QueryRowContext(ctx,
		`SELECT pushed_seq, pulled_seq FROM sync_cursors WHERE peer = ?`, peer).Scan(&pushed, &pulled)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	return pushed, pulled, err
}

// SetCursor stores the replication cursors for a peer.
func (ix *Index) SetCursor(ctx context.Context, peer string, pushed, pulled int64) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sync_cursors (peer, pushed_seq, pulled_seq) VALUES (?, ?, ?)`,
		peer, pushed, pulled)
	return err
}

func scanEntry(row *sql.Row) (*Entry, error) {
	var e Entry
	var published, tombstone int
	err := row.Scan(&e.RecordID, &e.MessageCID, &e.DataCID, &e.Protocol, &e.ProtocolPath,
		&e.Schema, &e.DataFormat, &e.Author, &e.Recipient, &e.ParentID, &e.ContextID,
		&published, &e.MessageTimestamp, &tombstone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Published = published != 0
	e.Tombstone = tombstone != 0
	return &e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
