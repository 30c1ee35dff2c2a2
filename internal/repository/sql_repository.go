package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/utils"

	_ "github.com/go-sql-driver/mysql"  // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver, registered as "pgx"
	_ "modernc.org/sqlite"             // Pure Go SQLite driver - no CGO required
)

// dialect captures the per-database differences the ledger cares about.
type dialect struct {
	name       string
	driverName string
	schema     []string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

var dialects = map[string]dialect{
	"sqlite": {
		name:       "sqlite",
		driverName: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS auctions (
				id TEXT PRIMARY KEY,
				item_name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				starting_price TEXT NOT NULL,
				bid_increment TEXT NOT NULL,
				duration_minutes INTEGER NOT NULL,
				seller_name TEXT NOT NULL,
				seller_email TEXT NOT NULL,
				start_time INTEGER NOT NULL,
				status TEXT NOT NULL DEFAULT 'active'
			)`,
			`CREATE INDEX IF NOT EXISTS idx_auctions_status ON auctions(status, start_time)`,
			`CREATE TABLE IF NOT EXISTS bids (
				id TEXT PRIMARY KEY,
				auction_id TEXT NOT NULL REFERENCES auctions(id),
				bid_amount TEXT NOT NULL,
				bidder_name TEXT NOT NULL,
				bidder_email TEXT NOT NULL,
				bid_time INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_bids_auction ON bids(auction_id, id)`,
		},
	},
	"mysql": {
		name:       "mysql",
		driverName: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS auctions (
				id VARCHAR(36) PRIMARY KEY,
				item_name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL,
				starting_price DECIMAL(12,2) NOT NULL,
				bid_increment DECIMAL(12,2) NOT NULL,
				duration_minutes INT NOT NULL,
				seller_name VARCHAR(255) NOT NULL,
				seller_email VARCHAR(255) NOT NULL,
				start_time BIGINT NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'active',
				INDEX idx_auctions_status (status, start_time)
			) ENGINE=InnoDB`,
			`CREATE TABLE IF NOT EXISTS bids (
				id CHAR(26) PRIMARY KEY,
				auction_id VARCHAR(36) NOT NULL,
				bid_amount DECIMAL(12,2) NOT NULL,
				bidder_name VARCHAR(255) NOT NULL,
				bidder_email VARCHAR(255) NOT NULL,
				bid_time BIGINT NOT NULL,
				INDEX idx_bids_auction (auction_id, id),
				FOREIGN KEY (auction_id) REFERENCES auctions(id)
			) ENGINE=InnoDB`,
		},
	},
	"postgres": {
		name:       "postgres",
		driverName: "pgx",
		numbered:   true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS auctions (
				id VARCHAR(36) PRIMARY KEY,
				item_name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				starting_price NUMERIC(12,2) NOT NULL,
				bid_increment NUMERIC(12,2) NOT NULL,
				duration_minutes INTEGER NOT NULL,
				seller_name VARCHAR(255) NOT NULL,
				seller_email VARCHAR(255) NOT NULL,
				start_time BIGINT NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'active'
			)`,
			`CREATE INDEX IF NOT EXISTS idx_auctions_status ON auctions(status, start_time)`,
			`CREATE TABLE IF NOT EXISTS bids (
				id CHAR(26) PRIMARY KEY,
				auction_id VARCHAR(36) NOT NULL REFERENCES auctions(id),
				bid_amount NUMERIC(12,2) NOT NULL,
				bidder_name VARCHAR(255) NOT NULL,
				bidder_email VARCHAR(255) NOT NULL,
				bid_time BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_bids_auction ON bids(auction_id, id)`,
		},
	},
}

// SQLRepo implements AuctionDB on a relational database (SQLite, MySQL or Postgres).
// Times are stored as Unix milliseconds and money as fixed two-decimal values.
type SQLRepo struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLRepo opens a database for the given driver ("sqlite", "mysql" or
// "postgres") and creates the schema if needed. For sqlite the dsn is a file path.
func OpenSQLRepo(ctx context.Context, driver, dsn string) (*SQLRepo, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if d.name == "sqlite" {
		dsn = dsn + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.name, err)
	}

	if d.name == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite only supports 1 writer
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", d.name, err)
	}

	repo, err := NewSQLRepo(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	utils.Info("ledger store initialized", map[string]any{"driver": d.name})
	return repo, nil
}

// NewSQLRepo wraps an open database and creates the schema if needed.
func NewSQLRepo(ctx context.Context, db *sql.DB, driver string) (*SQLRepo, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	r := &SQLRepo{db: db, dialect: d}
	if err := r.createTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return r, nil
}

// Driver names the database dialect in use.
func (r *SQLRepo) Driver() string {
	return r.dialect.name
}

func (r *SQLRepo) createTables(ctx context.Context) error {
	for _, stmt := range r.dialect.schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (r *SQLRepo) rebind(query string) string {
	if !r.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, biddingerrors.ErrStoreUnavailable, err)
}

const auctionColumns = `id, item_name, description, starting_price, bid_increment, duration_minutes, seller_name, seller_email, start_time, status`

const bidColumns = `id, auction_id, bid_amount, bidder_name, bidder_email, bid_time`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (model.Auction, error) {
	var (
		a         model.Auction
		startTime int64
		status    string
	)
	if err := row.Scan(
		&a.AuctionID,
		&a.ItemName,
		&a.Description,
		&a.StartingPrice,
		&a.BidIncrement,
		&a.DurationMinutes,
		&a.Seller.Name,
		&a.Seller.Email,
		&startTime,
		&status,
	); err != nil {
		return model.Auction{}, err
	}
	a.StartTime = time.UnixMilli(startTime).UTC()
	a.Status = model.AuctionStatus(status)
	return a, nil
}

func scanBid(row rowScanner) (model.Bid, error) {
	var (
		b       model.Bid
		bidTime int64
	)
	if err := row.Scan(&b.BidID, &b.AuctionID, &b.Amount, &b.Bidder.Name, &b.Bidder.Email, &bidTime); err != nil {
		return model.Bid{}, err
	}
	b.BidTime = time.UnixMilli(bidTime).UTC()
	return b, nil
}

// CreateAuction inserts a new auction.
func (r *SQLRepo) CreateAuction(ctx context.Context, a model.Auction) error {
	query := r.rebind(`INSERT INTO auctions (` + auctionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		a.AuctionID,
		a.ItemName,
		a.Description,
		a.StartingPrice.StringFixed(model.MonetaryPrecision),
		a.BidIncrement.StringFixed(model.MonetaryPrecision),
		a.DurationMinutes,
		a.Seller.Name,
		a.Seller.Email,
		a.StartTime.UnixMilli(),
		string(a.Status),
	)
	if err != nil {
		return storeErr("create auction "+a.AuctionID, err)
	}
	return nil
}

// GetAuction returns an auction by ID.
func (r *SQLRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	query := r.rebind(`SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`)

	a, err := scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, storeErr("get auction "+auctionID, err)
	}
	return a, nil
}

// ListActiveAuctions returns active auctions, newest first.
func (r *SQLRepo) ListActiveAuctions(ctx context.Context) ([]model.Auction, error) {
	query := r.rebind(`SELECT ` + auctionColumns + ` FROM auctions WHERE status = ? ORDER BY start_time DESC, id DESC`)

	rows, err := r.db.QueryContext(ctx, query, string(model.StatusActive))
	if err != nil {
		return nil, storeErr("list active auctions", err)
	}
	defer rows.Close()

	auctions := []model.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, storeErr("scan auction", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list active auctions", err)
	}
	return auctions, nil
}

// MarkEnded flips the auction to ended with a conditional update, so only one
// caller across every process sharing the database performs the transition.
func (r *SQLRepo) MarkEnded(ctx context.Context, auctionID string) (bool, error) {
	query := r.rebind(`UPDATE auctions SET status = ? WHERE id = ? AND status = ?`)

	res, err := r.db.ExecContext(ctx, query, string(model.StatusEnded), auctionID, string(model.StatusActive))
	if err != nil {
		return false, storeErr("mark auction "+auctionID+" ended", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("mark auction "+auctionID+" ended", err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := r.GetAuction(ctx, auctionID); err != nil {
		return false, err
	}
	return false, nil
}

// RecordBid appends an accepted bid. The auction must exist.
func (r *SQLRepo) RecordBid(ctx context.Context, bid model.Bid) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin record bid", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM auctions WHERE id = ?`), bid.AuctionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return storeErr("record bid for auction "+bid.AuctionID, err)
	}

	_, err = tx.ExecContext(ctx, r.rebind(`INSERT INTO bids (`+bidColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		bid.BidID,
		bid.AuctionID,
		bid.Amount.StringFixed(model.MonetaryPrecision),
		bid.Bidder.Name,
		bid.Bidder.Email,
		bid.BidTime.UnixMilli(),
	)
	if err != nil {
		return storeErr("record bid for auction "+bid.AuctionID, err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit bid for auction "+bid.AuctionID, err)
	}
	return nil
}

// GetBidsByAuction returns up to limit bids, most recent first. A non-positive
// limit returns every bid.
func (r *SQLRepo) GetBidsByAuction(ctx context.Context, auctionID string, limit int) ([]model.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = ? ORDER BY id DESC`
	args := []any{auctionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, storeErr("get bids for auction "+auctionID, err)
	}
	defer rows.Close()

	bids := []model.Bid{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, storeErr("scan bid", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get bids for auction "+auctionID, err)
	}
	return bids, nil
}

// GetHighestBid returns the last accepted bid. Accepted amounts only increase,
// so it is also the highest.
func (r *SQLRepo) GetHighestBid(ctx context.Context, auctionID string) (model.Bid, error) {
	query := r.rebind(`SELECT ` + bidColumns + ` FROM bids WHERE auction_id = ? ORDER BY id DESC LIMIT 1`)

	b, err := scanBid(r.db.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, storeErr("get highest bid for auction "+auctionID, err)
	}
	return b, nil
}

// Close closes the database connection.
func (r *SQLRepo) Close() error {
	return r.db.Close()
}

var _ AuctionDB = (*SQLRepo)(nil)
