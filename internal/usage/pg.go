package usage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PG is the primary durable usage store.
//
// Expected schema (migrations are managed outside this service):
//
//	create table usage_counters (
//	    identity  text primary key,
//	    free_used int not null default 0,
//	    last_ip   text,
//	    last_used timestamptz
//	);
//	create table trial_uses (
//	    email     text primary key,
//	    uses      int not null default 0,
//	    last_used timestamptz
//	);
type PG struct {
	db *sql.DB
}

var (
	_ Store      = (*PG)(nil)
	_ TrialStore = (*PG)(nil)
)

// NewPG wraps an open database handle.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

func (s *PG) Get(ctx context.Context, identity string) (Record, error) {
	var rec Record
	var lastIP sql.NullString
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select free_used, last_ip, last_used
		from usage_counters where identity=$1
	`, identity).Scan(&rec.FreeUsed, &lastIP, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{Identity: identity}, nil
	}
	if err != nil {
		return Record{}, err
	}
	rec.Identity = identity
	if lastIP.Valid {
		rec.LastIP = lastIP.String
	}
	if lastUsed.Valid {
		rec.LastUsed = lastUsed.Time
	}
	return rec, nil
}

// Increment is a single atomic upsert: insert counter=1 when absent,
// otherwise free_used += 1, refreshing last_ip/last_used. Concurrent
// requests for the same identity cannot lose updates.
func (s *PG) Increment(ctx context.Context, identity, ip string) (Record, error) {
	var rec Record
	var lastIP sql.NullString
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		insert into usage_counters(identity, free_used, last_ip, last_used)
		values ($1, 1, nullif($2,''), now())
		on conflict (identity) do update
		set free_used = usage_counters.free_used + 1,
		    last_ip   = excluded.last_ip,
		    last_used = excluded.last_used
		returning free_used, last_ip, last_used
	`, identity, ip).Scan(&rec.FreeUsed, &lastIP, &lastUsed)
	if err != nil {
		return Record{}, err
	}
	rec.Identity = identity
	if lastIP.Valid {
		rec.LastIP = lastIP.String
	}
	if lastUsed.Valid {
		rec.LastUsed = lastUsed.Time
	} else {
		rec.LastUsed = time.Now().UTC()
	}
	return rec, nil
}

func (s *PG) Uses(ctx context.Context, email string) (int, error) {
	var uses int
	err := s.db.QueryRowContext(ctx,
		`select uses from trial_uses where email=$1`, email).Scan(&uses)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uses, nil
}

func (s *PG) IncrementTrial(ctx context.Context, email string) (int, error) {
	var uses int
	err := s.db.QueryRowContext(ctx, `
		insert into trial_uses(email, uses, last_used)
		values ($1, 1, now())
		on conflict (email) do update
		set uses = trial_uses.uses + 1, last_used = excluded.last_used
		returning uses
	`, email).Scan(&uses)
	if err != nil {
		return 0, err
	}
	return uses, nil
}
