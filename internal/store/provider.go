// Package store reads world metadata and authoritative market snapshots from
// PostgreSQL. The upstream aggregator maintains these tables; marketboard
// only queries them.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hward/marketboard/internal/cache"
	"github.com/hward/marketboard/internal/config"
	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

// Provider serves scope seeds and per-world market snapshots.
type Provider struct {
	pool       *pgxpool.Pool
	saleWindow int
	logger     *slog.Logger
}

// Connect creates a provider backed by a pgx connection pool.
func Connect(ctx context.Context, cfg config.DBConfig, saleWindow int, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(connString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Provider{pool: pool, saleWindow: saleWindow, logger: logger}, nil
}

// connString renders cfg as a postgres URL. url.URL handles the escaping of
// awkward passwords.
func connString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

// Close releases the connection pool.
func (p *Provider) Close() {
	p.pool.Close()
}

// Ping verifies the connection is healthy.
func (p *Provider) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// WorldSeeds loads the world hierarchy for building the scope index.
func (p *Provider) WorldSeeds(ctx context.Context) ([]scope.WorldSeed, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT w.id, w.name, d.id, d.name, r.id, r.name
		FROM worlds w
		JOIN datacenters d ON d.id = w.datacenter_id
		JOIN regions r ON r.id = d.region_id
		ORDER BY w.id`)
	if err != nil {
		return nil, fmt.Errorf("query worlds: %w", err)
	}
	defer rows.Close()

	var seeds []scope.WorldSeed
	for rows.Next() {
		var s scope.WorldSeed
		if err := rows.Scan(&s.ID, &s.Name, &s.Datacenter, &s.DatacenterName, &s.Region, &s.RegionName); err != nil {
			return nil, fmt.Errorf("scan world row: %w", err)
		}
		seeds = append(seeds, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate world rows: %w", err)
	}
	return seeds, nil
}

// WorldSnapshot builds the authoritative cache snapshot for one world:
// cheapest listing per price line plus the recent sales window.
func (p *Provider) WorldSnapshot(ctx context.Context, world model.WorldID) (cache.Snapshot, error) {
	snap := cache.Snapshot{
		Cheapest: make(map[model.ListingKey]model.CheapestEntry),
		Sales:    make(map[model.ListingKey][]model.SaleRecord),
	}

	rows, err := p.pool.Query(ctx, `
		SELECT item_id, hq, MIN(price_per_unit)
		FROM listings
		WHERE world_id = $1
		GROUP BY item_id, hq`, world)
	if err != nil {
		return cache.Snapshot{}, fmt.Errorf("query cheapest listings: %w", err)
	}
	for rows.Next() {
		var key model.ListingKey
		var price int64
		if err := rows.Scan(&key.Item, &key.HQ, &price); err != nil {
			rows.Close()
			return cache.Snapshot{}, fmt.Errorf("scan listing row: %w", err)
		}
		snap.Cheapest[key] = model.CheapestEntry{Price: price, World: world}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return cache.Snapshot{}, fmt.Errorf("iterate listing rows: %w", err)
	}
	rows.Close()

	// ranked caps each price line at the sale window, newest first.
	rows, err = p.pool.Query(ctx, `
		SELECT item_id, hq, price_per_unit, quantity, buyer_name, sold_at
		FROM (
			SELECT item_id, hq, price_per_unit, quantity, buyer_name, sold_at,
			       ROW_NUMBER() OVER (PARTITION BY item_id, hq ORDER BY sold_at DESC) AS rn
			FROM sales
			WHERE world_id = $1
		) ranked
		WHERE rn <= $2
		ORDER BY item_id, hq, sold_at DESC`, world, p.saleWindow)
	if err != nil {
		return cache.Snapshot{}, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key model.ListingKey
		rec := model.SaleRecord{World: world}
		if err := rows.Scan(&key.Item, &key.HQ, &rec.PricePerUnit, &rec.Quantity, &rec.BuyerName, &rec.SoldAt); err != nil {
			return cache.Snapshot{}, fmt.Errorf("scan sale row: %w", err)
		}
		rec.Item = key.Item
		rec.HQ = key.HQ
		rec.SoldAt = rec.SoldAt.UTC()
		snap.Sales[key] = append(snap.Sales[key], rec)
	}
	if err := rows.Err(); err != nil {
		return cache.Snapshot{}, fmt.Errorf("iterate sale rows: %w", err)
	}

	return snap, nil
}
