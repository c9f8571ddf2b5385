// Package sqlitecas stores record data payloads in a sqlite database.
//
// Useful when a node wants its payloads and its record index in the same
// file, or in tests that want a CAS without directory sprawl.
package sqlitecas

import (
	"database/sql"
	"errors"

	"github.com/ipfs/go-cid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/openwebnode/dwn/cidutil"
	"github.com/openwebnode/dwn/storage"
)

type CAS struct {
	db     *sql.DB
	ownsDB bool
}

// Open opens (creating if needed) a sqlite-backed CAS at path.
func Open(path string) (*CAS, error) {
	if path == "" {
		return nil, errors.New("sqlitecas: database path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	c := &CAS{db: db, ownsDB: true}
	if err := c.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Wrap builds a CAS on an existing database handle. Close becomes a no-op;
// the caller owns the handle.
func Wrap(db *sql.DB) (*CAS, error) {
	c := &CAS{db: db}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CAS) init() error {
	_, err := c.db.Exec(
		`CREATE TABLE IF NOT EXISTS blobs (
			cid     TEXT NOT NULL PRIMARY KEY,
			content BLOB NOT NULL
		)`,
	)
	return err
}

func (c *CAS) Close() error {
	if !c.ownsDB {
		return nil
	}
	return c.db.Close()
}

func (c *CAS) Put(bytes []byte) (cid.Cid, error) {
	id, err := cidutil.DataCID(bytes)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, storage.ErrInvalidCID
	}
	// INSERT OR IGNORE keeps Put idempotent; a row can never change once
	// written, so a pre-existing row either matches the bytes or the
	// database was corrupted out-of-band (caught on Get).
	if _, err := c.db.Exec(
		`INSERT OR IGNORE INTO blobs (cid, content) VALUES (?, ?)`,
		id.String(), bytes,
	); err != nil {
		return cid.Undef, err
	}
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	var content []byte
	err := c.db.QueryRow(`SELECT content FROM blobs WHERE cid = ?`, id.String()).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	got, err := cidutil.DataCID(content)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, storage.ErrCIDMismatch
	}
	return content, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	var one int
	err := c.db.QueryRow(`SELECT 1 FROM blobs WHERE cid = ?`, id.String()).Scan(&one)
	return err == nil
}
