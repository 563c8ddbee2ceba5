package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/overunder/market-core/internal/model"
)

// parseNumeric decodes a NUMERIC column read as TEXT.
func parseNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode numeric %q: %w", s, err)
	}
	return d, nil
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Market metadata lives in scalar columns; the accounting state is a JSONB
// document, versioned by the schema_version column for offline migration.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// SchemaVersion is the current serialized-state schema version.
const SchemaVersion = 1

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS markets (
			id             TEXT PRIMARY KEY,
			creator        TEXT NOT NULL,
			question       TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			category       TEXT NOT NULL DEFAULT '',
			options        JSONB NOT NULL,
			pricing        TEXT NOT NULL,
			deadline       TIMESTAMPTZ NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			status         TEXT NOT NULL,
			outcome        INT NOT NULL DEFAULT 0,
			state          JSONB NOT NULL,
			schema_version INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wager_records (
			id        TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			user_id   TEXT NOT NULL,
			kind      TEXT NOT NULL,
			option    INT NOT NULL,
			gross     NUMERIC NOT NULL,
			net       NUMERIC NOT NULL,
			fee       NUMERIC NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS wager_records_market_idx ON wager_records (market_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS wager_records_user_idx ON wager_records (user_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id    TEXT PRIMARY KEY,
			username   TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	options, err := json.Marshal(m.Options)
	if err != nil {
		return err
	}
	state, err := json.Marshal(m.State)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO markets (id, creator, question, description, category, options, pricing,
		                      deadline, created_at, status, outcome, state, schema_version)
		 VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7, $8, $9, $10, $11, $12::JSONB, $13)`,
		m.ID, m.Creator, m.Question, m.Description, m.Category, options, string(m.Pricing),
		m.Deadline, m.CreatedAt, m.Status, m.Outcome, state, SchemaVersion,
	)
	return err
}

const marketColumns = `id, creator, question, description, category, options::TEXT, pricing,
       deadline, created_at, status, outcome, state::TEXT`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var options, state, pricing string

	err := row.Scan(&m.ID, &m.Creator, &m.Question, &m.Description, &m.Category,
		&options, &pricing, &m.Deadline, &m.CreatedAt, &m.Status, &m.Outcome, &state)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &m.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &m.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	m.Pricing = model.PricingModel(pricing)
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) SaveMarket(ctx context.Context, m *model.Market) error {
	state, err := json.Marshal(m.State)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET status = $2, outcome = $3, state = $4::JSONB, schema_version = $5
		 WHERE id = $1`,
		m.ID, m.Status, m.Outcome, state, SchemaVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertWagerRecord(ctx context.Context, r *model.WagerRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wager_records (id, market_id, user_id, kind, option, gross, net, fee, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		r.ID, r.MarketID, r.UserID, r.Kind, r.Option,
		r.Gross.String(), r.Net.String(), r.Fee.String(), r.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetWagerRecordsByMarket(ctx context.Context, marketID string) ([]model.WagerRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, kind, option,
		        gross::TEXT, net::TEXT, fee::TEXT, timestamp
		 FROM wager_records WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWagerRecords(rows)
}

func (s *PostgresStore) GetWagerRecordsByUser(ctx context.Context, userID string) ([]model.WagerRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, kind, option,
		        gross::TEXT, net::TEXT, fee::TEXT, timestamp
		 FROM wager_records WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWagerRecords(rows)
}

func scanWagerRecords(rows pgx.Rows) ([]model.WagerRecord, error) {
	var records []model.WagerRecord
	for rows.Next() {
		var r model.WagerRecord
		var grossS, netS, feeS string

		if err := rows.Scan(&r.ID, &r.MarketID, &r.UserID, &r.Kind, &r.Option,
			&grossS, &netS, &feeS, &r.Timestamp); err != nil {
			return nil, err
		}
		var err error
		if r.Gross, err = parseNumeric(grossS); err != nil {
			return nil, err
		}
		if r.Net, err = parseNumeric(netS); err != nil {
			return nil, err
		}
		if r.Fee, err = parseNumeric(feeS); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p *model.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, username, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET username = $2, updated_at = $3`,
		p.UserID, p.Username, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, username, updated_at FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.Username, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
