package store

import (
	"context"
	"database/sql"
)

type pinnedConnKey struct{}

type pinnedConn struct {
	db   *sql.DB
	conn *sql.Conn
}

// withPinnedConn binds conn to ctx. Postgres stores sharing db run their
// statements on it instead of taking another connection from the pool.
func withPinnedConn(ctx context.Context, db *sql.DB, conn *sql.Conn) context.Context {
	return context.WithValue(ctx, pinnedConnKey{}, pinnedConn{db: db, conn: conn})
}

func pinned(ctx context.Context, db *sql.DB) (*sql.Conn, bool) {
	p, ok := ctx.Value(pinnedConnKey{}).(pinnedConn)
	if !ok || p.db != db {
		return nil, false
	}
	return p.conn, true
}

// executor returns the connection pinned to ctx for db, or db itself.
func executor(ctx context.Context, db *sql.DB) queryer {
	if conn, ok := pinned(ctx, db); ok {
		return conn
	}
	return db
}

func beginTx(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	if conn, ok := pinned(ctx, db); ok {
		return conn.BeginTx(ctx, nil)
	}
	return db.BeginTx(ctx, nil)
}
