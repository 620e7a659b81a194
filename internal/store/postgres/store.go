// Package postgres provides the Postgres-backed Event Store,
// grounded on the teacher's internal/storage/postgres/store.go
// (pgxpool.Pool, pgx.Batch upserts). Unlike the teacher's
// upsert-on-conflict metrics writer, EventRecord append tolerates
// duplicate (blockNumber, logIndex) rows per §4.F — no uniqueness
// constraint is imposed, matching the source's own abandoned attempt
// at one.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"settler/internal/model"
	"settler/internal/store"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and returns a Store. Callers are expected
// to have already applied the schema in schema.sql.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append inserts a single EventRecord, returning its generated id.
func (s *Store) Append(ctx context.Context, record model.EventRecord) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO event_records (
			event_type, room_id, player, block_number, block_timestamp, log_index,
			transaction_hash, created_at,
			amount_wei, bet_big, commit_block, reveal_block_from_tx,
			reward_amount_wei, won, hash_value, block_hash, result_block, bet_id,
			related_event_id, processed
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, now(),
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17,
			$18, $19
		) RETURNING id::text
	`,
		string(record.EventType), record.RoomID, record.Player, int64(record.BlockNumber), int64(record.BlockTimestamp), int64(record.LogIndex),
		record.TransactionHash,
		nullableString(record.AmountWei), record.BetBig, int64(record.CommitBlock), int64(record.RevealBlockFromTx),
		nullableString(record.RewardAmountWei), record.Won, record.HashValue, nullableString(record.BlockHash), int64(record.ResultBlock), nullableString(record.BetID),
		record.RelatedEventID, record.Processed,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("append event record: %w", err)
	}
	return id, nil
}

func (s *Store) FindOne(ctx context.Context, query store.EventQuery, sortOrder store.SortOrder) (model.EventRecord, bool, error) {
	sql, args := buildFindQuery(query, sortOrder, 0, 1)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return model.EventRecord{}, false, fmt.Errorf("find one: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return model.EventRecord{}, false, rows.Err()
	}
	record, err := scanRecord(rows)
	if err != nil {
		return model.EventRecord{}, false, err
	}
	return record, true, nil
}

func (s *Store) Find(ctx context.Context, query store.EventQuery, skip, limit int) ([]model.EventRecord, error) {
	sql, args := buildFindQuery(query, store.SortDescending, skip, limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Store) FindByIDs(ctx context.Context, ids []string) ([]model.EventRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+` FROM event_records WHERE id::text = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("find by ids: %w", err)
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context, query store.EventQuery) (int64, error) {
	where, args := buildWhere(query)
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM event_records "+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// UpdateLink sets relatedEventId on both records symmetrically and
// marks both processed, in a single transaction so a crash never
// leaves the link one-sided.
func (s *Store) UpdateLink(ctx context.Context, idA, idB string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("update link begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`UPDATE event_records SET related_event_id = $2, processed = true WHERE id::text = $1`, idA, idB)
	batch.Queue(`UPDATE event_records SET related_event_id = $2, processed = true WHERE id::text = $1`, idB, idA)

	br := tx.SendBatch(ctx, batch)
	var updateErr error
	for i := 0; i < 2; i++ {
		if _, err := br.Exec(); err != nil {
			updateErr = err
			break
		}
	}
	if err := br.Close(); err != nil && updateErr == nil {
		updateErr = err
	}
	if updateErr != nil {
		return fmt.Errorf("update link: %w", updateErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("update link commit: %w", err)
	}
	return nil
}

const selectColumns = `
	id::text, event_type, room_id, player, block_number, block_timestamp, log_index,
	transaction_hash, created_at,
	amount_wei, bet_big, commit_block, reveal_block_from_tx,
	reward_amount_wei, won, hash_value, block_hash, result_block, bet_id,
	related_event_id, processed
`

func buildWhere(query store.EventQuery) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if query.EventType != nil {
		add("event_type = $%d", string(*query.EventType))
	}
	if query.RoomID != nil {
		add("room_id = $%d", *query.RoomID)
	}
	if query.Player != nil {
		add("player = $%d", *query.Player)
	}
	if query.Processed != nil {
		add("processed = $%d", *query.Processed)
	}
	if query.BetID != nil {
		add("bet_id = $%d", *query.BetID)
	}

	if len(clauses) == 0 {
		return "", args
	}

	where := "WHERE "
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	return where, args
}

func buildFindQuery(query store.EventQuery, sortOrder store.SortOrder, skip, limit int) (string, []interface{}) {
	where, args := buildWhere(query)

	order := "DESC"
	if sortOrder == store.SortAscending {
		order = "ASC"
	}

	sql := "SELECT " + selectColumns + " FROM event_records " + where + " ORDER BY block_number " + order

	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if skip > 0 {
		args = append(args, skip)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return sql, args
}

// rowScanner is satisfied by both pgx.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (model.EventRecord, error) {
	var r model.EventRecord
	var eventType string
	var blockNumber, blockTimestamp, logIndex, commitBlock, revealBlockFromTx, resultBlock int64
	var amountWei, rewardAmountWei, blockHash, betID *string
	var relatedEventID *string

	err := row.Scan(
		&r.ID, &eventType, &r.RoomID, &r.Player, &blockNumber, &blockTimestamp, &logIndex,
		&r.TransactionHash, &r.CreatedAt,
		&amountWei, &r.BetBig, &commitBlock, &revealBlockFromTx,
		&rewardAmountWei, &r.Won, &r.HashValue, &blockHash, &resultBlock, &betID,
		&relatedEventID, &r.Processed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EventRecord{}, err
		}
		return model.EventRecord{}, fmt.Errorf("scan event record: %w", err)
	}

	r.EventType = model.EventType(eventType)
	r.BlockNumber = uint64(blockNumber)
	r.BlockTimestamp = uint64(blockTimestamp)
	r.LogIndex = uint64(logIndex)
	r.CommitBlock = uint64(commitBlock)
	r.RevealBlockFromTx = uint64(revealBlockFromTx)
	r.ResultBlock = uint64(resultBlock)
	r.RelatedEventID = relatedEventID
	if amountWei != nil {
		r.AmountWei = *amountWei
	}
	if rewardAmountWei != nil {
		r.RewardAmountWei = *rewardAmountWei
	}
	if blockHash != nil {
		r.BlockHash = *blockHash
	}
	if betID != nil {
		r.BetID = *betID
	}

	return r, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
