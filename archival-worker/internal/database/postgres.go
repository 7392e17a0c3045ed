package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aaronwang/zecond/shared/models"
	_ "github.com/lib/pq"
)

// PostgresClient wraps the PostgreSQL database connection
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(ctx context.Context, connStr string) (*PostgresClient, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresClient{db: db}, nil
}

// Schema is the archive layout
const Schema = `
	CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(255) PRIMARY KEY,
		title VARCHAR(255) NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		highest_bid DECIMAL(12, 2) NOT NULL DEFAULT 0,
		highest_bidder_id VARCHAR(255),
		total_bids INTEGER NOT NULL DEFAULT 0,
		winner_id VARCHAR(255),
		winning_amount DECIMAL(12, 2),
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bids (
		id VARCHAR(255) PRIMARY KEY,
		product_id VARCHAR(255) NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		bidder_id VARCHAR(255) NOT NULL,
		bidder_name VARCHAR(255) NOT NULL DEFAULT '',
		amount DECIMAL(12, 2) NOT NULL,
		previous_bid DECIMAL(12, 2) NOT NULL DEFAULT 0,
		timestamp TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_bids_product_id ON bids(product_id);
	CREATE INDEX IF NOT EXISTS idx_bids_bidder_id ON bids(bidder_id);
	CREATE INDEX IF NOT EXISTS idx_bids_timestamp ON bids(timestamp);
`

// InitSchema creates the necessary database tables
func (c *PostgresClient) InitSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ArchiveBid records an accepted bid and advances the product's highest bid.
// Redelivered events are no-ops.
func (c *PostgresClient) ArchiveBid(ctx context.Context, event *models.BidEvent) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	bid := event.Bid
	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, bid.ProductID)
	if err != nil {
		return fmt.Errorf("failed to ensure product: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO bids (id, product_id, bidder_id, bidder_name, amount, previous_bid, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, bid.ID, bid.ProductID, bid.BidderID, bid.BidderName, bid.Amount.String(), event.PreviousBid.String(), bid.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET highest_bid = $1,
		    highest_bidder_id = $2,
		    total_bids = GREATEST(total_bids, $3),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND highest_bid <= $1
	`, bid.Amount.String(), bid.BidderID, event.TotalBids, bid.ProductID)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}

	return tx.Commit()
}

// ArchiveWinner marks a product's auction closed with its winner
func (c *PostgresClient) ArchiveWinner(ctx context.Context, event *models.AuctionWonEvent) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO products (id, title, image, status, winner_id, winning_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
		    image = EXCLUDED.image,
		    status = EXCLUDED.status,
		    winner_id = EXCLUDED.winner_id,
		    winning_amount = EXCLUDED.winning_amount,
		    updated_at = CURRENT_TIMESTAMP
	`, event.ProductID, event.ProductTitle, event.ProductImage, models.ProductStatusClosed,
		event.BidderID, event.Amount.String())
	if err != nil {
		return fmt.Errorf("failed to record winner: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	return c.db.Close()
}
