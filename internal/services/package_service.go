package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wanderplan/backend/internal/models"
)

var ErrPackageNotFound = errors.New("credit package not found")

// PackageService reads the credit package catalog. The catalog maps payment
// provider product ids to credit amounts; the ledger never writes to it.
type PackageService struct {
	db *sql.DB
}

func NewPackageService(db *sql.DB) *PackageService {
	return &PackageService{db: db}
}

// ListActive returns purchasable packages in display order.
func (s *PackageService) ListActive(ctx context.Context) ([]models.CreditPackage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, credits, price_cents, product_id, is_active, sort_order
		   FROM credit_packages
		  WHERE is_active = true
		  ORDER BY sort_order ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	pkgs := []models.CreditPackage{}
	for rows.Next() {
		var p models.CreditPackage
		if err := rows.Scan(&p.ID, &p.Name, &p.Credits, &p.PriceCents, &p.ProductID, &p.IsActive, &p.SortOrder); err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, rows.Err()
}

// FindByProductID resolves the payment provider's product id to a package.
// This is the only sanctioned way to price a webhook event; amounts in the
// payload are attacker-controlled and are never used.
func (s *PackageService) FindByProductID(ctx context.Context, productID string) (models.CreditPackage, error) {
	var p models.CreditPackage
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, credits, price_cents, product_id, is_active, sort_order
		   FROM credit_packages
		  WHERE product_id = $1 AND is_active = true`,
		productID,
	).Scan(&p.ID, &p.Name, &p.Credits, &p.PriceCents, &p.ProductID, &p.IsActive, &p.SortOrder)
	if err == sql.ErrNoRows {
		return models.CreditPackage{}, ErrPackageNotFound
	}
	if err != nil {
		return models.CreditPackage{}, fmt.Errorf("find package: %w", err)
	}
	return p, nil
}
