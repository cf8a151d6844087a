package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// PackageSpec is one desired catalog entry.
type PackageSpec struct {
	Name    string `json:"name"`
	Credits int    `json:"credits"`
	Price   int64  `json:"price"`
}

// DefaultPackages is the launch catalog. Prices are in CLP.
var DefaultPackages = []PackageSpec{
	{Name: "Paquete Iniciación", Credits: 5, Price: 10000},
	{Name: "Paquete Guerrero", Credits: 20, Price: 30000},
	{Name: "Paquete Leónidas", Credits: 100, Price: 100000},
}

// TxBeginner abstracts transaction creation so Sync can run against a pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SyncResult summarizes a Sync run.
type SyncResult struct {
	Upserted    int
	Deactivated int64
}

// Sync makes the active catalog equal to specs in one transaction.
func Sync(ctx context.Context, beginner TxBeginner, repo *Repository, specs []PackageSpec, log *slog.Logger) (SyncResult, error) {
	var res SyncResult
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return res, fmt.Errorf("duplicate package name %q", s.Name)
		}
		seen[s.Name] = true
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	keep := make([]string, 0, len(specs))
	for _, s := range specs {
		p, err := repo.UpsertByName(ctx, tx, s.Name, s.Credits, s.Price)
		if err != nil {
			return res, fmt.Errorf("upsert %q: %w", s.Name, err)
		}
		log.Info("package upserted", "id", p.ID, "name", p.Name, "credits", p.Credits, "price", p.Price)
		keep = append(keep, s.Name)
		res.Upserted++
	}

	res.Deactivated, err = repo.DeactivateExcept(ctx, tx, keep)
	if err != nil {
		return res, err
	}
	if err := tx.Commit(ctx); err != nil {
		return res, err
	}
	return res, nil
}
