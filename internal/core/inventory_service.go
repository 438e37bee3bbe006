package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type UpdateInventoryRequest struct {
	ProductName string `json:"product_name"`
	// Delta is added to stock; negative values remove stock.
	Delta  int64  `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

func (r UpdateInventoryRequest) Validate() error {
	const op = "update_inventory"
	if strings.TrimSpace(r.ProductName) == "" {
		return NewValidationError(op, "product name is required")
	}
	if r.Delta == 0 {
		return NewValidationError(op, "quantity change must not be zero")
	}
	return nil
}

type InventoryResult struct {
	Product  Product `json:"product"`
	Delta    int64   `json:"delta"`
	Previous int64   `json:"previous_stock"`
	Created  bool    `json:"created"`
	LowStock bool    `json:"low_stock"`
}

// UpdateInventory applies a stock delta. A positive delta for an unknown
// product creates it; a negative one is an unknown product error.
func (l *Ledger) UpdateInventory(ctx context.Context, messageID string, req UpdateInventoryRequest) (*InventoryResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return apply(ctx, l, messageID, "update_inventory", func(tx Tx, now time.Time) (*InventoryResult, error) {
		const op = "update_inventory"
		res := &InventoryResult{Delta: req.Delta}

		id, ok, err := l.findProduct(ctx, tx, req.ProductName)
		if err != nil {
			return nil, err
		}
		var p *Product
		switch {
		case ok:
			if p, err = tx.LockProduct(ctx, id); err != nil {
				return nil, fmt.Errorf("failed to lock product: %w", err)
			}
		case req.Delta > 0:
			p = newProduct(strings.TrimSpace(req.ProductName), now)
			if err := tx.InsertProduct(ctx, p); err != nil {
				return nil, fmt.Errorf("failed to create product: %w", err)
			}
			res.Created = true
		default:
			return nil, newActionError(op, ErrUnknownProduct, "product %q not found", req.ProductName)
		}

		res.Previous = p.Stock
		next := p.Stock + req.Delta
		if next < 0 {
			return nil, newActionError(op, ErrInsufficientStock,
				"only %d %s of %s in stock, cannot remove %d", p.Stock, p.Unit, p.Name, -req.Delta)
		}
		p.Stock = next
		p.UpdatedAt = now
		if err := tx.SetProductStock(ctx, p.ID, p.Stock, now); err != nil {
			return nil, fmt.Errorf("failed to update stock: %w", err)
		}

		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "manual adjustment"
		}
		if err := tx.InsertStockMovement(ctx, &StockMovement{
			ProductID:      p.ID,
			Delta:          req.Delta,
			ResultingStock: p.Stock,
			Reason:         reason,
			CreatedAt:      now,
		}); err != nil {
			return nil, fmt.Errorf("failed to record stock movement: %w", err)
		}

		res.Product = *p
		res.LowStock = p.Stock <= p.LowStockAlert
		return res, nil
	})
}

type CreateProductRequest struct {
	Name          string          `json:"name"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	Stock         int64           `json:"stock"`
	GSTRate       *int64          `json:"gst_rate,omitempty"`
	Unit          string          `json:"unit,omitempty"`
	LowStockAlert *int64          `json:"low_stock_alert,omitempty"`
}

func (r CreateProductRequest) Validate() error {
	const op = "create_product"
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError(op, "product name is required")
	}
	if r.SellingPrice.IsNegative() || r.CostPrice.IsNegative() {
		return NewValidationError(op, "prices must not be negative")
	}
	if r.Stock < 0 {
		return NewValidationError(op, "opening stock must not be negative, got %d", r.Stock)
	}
	if r.GSTRate != nil && !slices.Contains(GSTRates, *r.GSTRate) {
		return NewValidationError(op, "GST rate must be one of %v, got %d", GSTRates, *r.GSTRate)
	}
	if r.LowStockAlert != nil && *r.LowStockAlert < 0 {
		return NewValidationError(op, "low stock alert must not be negative")
	}
	return nil
}

type ProductResult struct {
	Product Product `json:"product"`
}

// CreateProduct adds a product to the catalogue. A product with the same
// name (ignoring case and punctuation) must not exist yet.
func (l *Ledger) CreateProduct(ctx context.Context, messageID string, req CreateProductRequest) (*ProductResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return apply(ctx, l, messageID, "create_product", func(tx Tx, now time.Time) (*ProductResult, error) {
		refs, err := tx.ProductNames(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list products: %w", err)
		}
		name := strings.TrimSpace(req.Name)
		for _, r := range refs {
			if NormalizeName(r.Name) == NormalizeName(name) {
				return nil, NewValidationError("create_product", "product %s already exists, use a stock update instead", r.Name)
			}
		}

		p := newProduct(name, now)
		p.SellingPrice = round2(req.SellingPrice)
		p.CostPrice = round2(req.CostPrice)
		if req.GSTRate != nil {
			p.GSTRate = decimal.NewFromInt(*req.GSTRate)
		}
		if req.Unit != "" {
			p.Unit = strings.ToLower(strings.TrimSpace(req.Unit))
		}
		if req.LowStockAlert != nil {
			p.LowStockAlert = *req.LowStockAlert
		}
		p.Stock = req.Stock
		if err := tx.InsertProduct(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to insert product: %w", err)
		}
		if p.Stock > 0 {
			if err := tx.InsertStockMovement(ctx, &StockMovement{
				ProductID:      p.ID,
				Delta:          p.Stock,
				ResultingStock: p.Stock,
				Reason:         "opening stock",
				CreatedAt:      now,
			}); err != nil {
				return nil, fmt.Errorf("failed to record stock movement: %w", err)
			}
		}
		return &ProductResult{Product: *p}, nil
	})
}

func newProduct(name string, now time.Time) *Product {
	return &Product{
		Name:          name,
		Unit:          DefaultUnit,
		CostPrice:     decimal.Zero,
		SellingPrice:  decimal.Zero,
		GSTRate:       decimal.NewFromInt(DefaultGSTRate),
		LowStockAlert: DefaultLowStockAlert,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
