package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/vnshop-orders/internal/domain/auth"
	"github.com/xenking/vnshop-orders/internal/domain/catalog"
	"github.com/xenking/vnshop-orders/internal/domain/inventory"
	"github.com/xenking/vnshop-orders/internal/domain/voucher"
	"github.com/xenking/vnshop-orders/internal/repository"
)

type seedCatalog struct {
	Variants  []variantJSON `json:"variants"`
	Vouchers  []voucherJSON `json:"vouchers"`
	Addresses []addressJSON `json:"addresses"`
	Carts     []cartJSON    `json:"carts"`
	APIKeys   []apiKeyJSON  `json:"api_keys"`
}

type variantJSON struct {
	ProductID    int64           `json:"product_id"`
	Color        string          `json:"color"`
	Size         string          `json:"size"`
	CategoryID   int64           `json:"category_id"`
	Name         string          `json:"name"`
	PriceRegular decimal.Decimal `json:"price_regular"`
	PriceSale    decimal.Decimal `json:"price_sale"`
	Quantity     int             `json:"quantity"`
}

type voucherJSON struct {
	Code          string          `json:"code"`
	Kind          voucher.Kind    `json:"kind"`
	Value         decimal.Decimal `json:"value"`
	MinOrderValue decimal.Decimal `json:"min_order_value"`
	MaxDiscount   decimal.Decimal `json:"max_discount"`
	UsageLimit    int             `json:"usage_limit"`
	Scope         voucher.Scope   `json:"scope"`
	ApplicableIDs []int64         `json:"applicable_ids"`
	Description   string          `json:"description"`
}

type addressJSON struct {
	UserID    int64  `json:"user_id"`
	Recipient string `json:"recipient"`
	Phone     string `json:"phone"`
	Line      string `json:"line"`
}

type cartJSON struct {
	UserID    int64  `json:"user_id"`
	ProductID int64  `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type apiKeyJSON struct {
	Key    string    `json:"key"`
	Name   string    `json:"name"`
	UserID int64     `json:"user_id"`
	Role   auth.Role `json:"role"`
}

func parseCatalog(data []byte) (*seedCatalog, error) {
	var c seedCatalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "decode json")
	}

	variants := make(map[inventory.VariantKey]struct{}, len(c.Variants))
	for _, v := range c.Variants {
		key := inventory.VariantKey{ProductID: v.ProductID, Color: v.Color, Size: v.Size}
		if v.PriceRegular.IsNegative() || v.PriceSale.IsNegative() || v.Quantity < 0 {
			return nil, errors.Errorf("variant %s: negative price or quantity", key)
		}
		variants[key] = struct{}{}
	}
	for _, v := range c.Vouchers {
		if strings.TrimSpace(v.Code) == "" {
			return nil, errors.New("voucher without code")
		}
		if v.Kind != voucher.KindFixed && v.Kind != voucher.KindPercent {
			return nil, errors.Errorf("voucher %s: unknown kind %q", v.Code, v.Kind)
		}
	}
	for _, it := range c.Carts {
		key := inventory.VariantKey{ProductID: it.ProductID, Color: it.Color, Size: it.Size}
		if _, ok := variants[key]; !ok {
			return nil, errors.Errorf("cart of user %d references unknown variant %s", it.UserID, key)
		}
		if it.Quantity <= 0 {
			return nil, errors.Errorf("cart of user %d: quantity must be positive", it.UserID)
		}
	}
	for _, k := range c.APIKeys {
		if k.Key == "" || !k.Role.Valid() {
			return nil, errors.Errorf("api key %q: empty key or invalid role %q", k.Name, k.Role)
		}
	}
	return &c, nil
}

type seeder struct {
	lg       *zap.Logger
	catalog  *repository.CatalogRepository
	vouchers *repository.VoucherRepository
	keys     *repository.APIKeyRepository
	pepper   []byte
}

func (s *seeder) seed(ctx context.Context, c *seedCatalog) error {
	for _, v := range c.Variants {
		err := s.catalog.UpsertVariant(ctx, catalog.Variant{
			Key:          inventory.VariantKey{ProductID: v.ProductID, Color: v.Color, Size: v.Size},
			CategoryID:   v.CategoryID,
			Name:         v.Name,
			PriceRegular: v.PriceRegular,
			PriceSale:    v.PriceSale,
			Stock:        v.Quantity,
		})
		if err != nil {
			return err
		}
	}
	s.lg.Info("Upserted variants", zap.Int("count", len(c.Variants)))

	for _, v := range c.Vouchers {
		vc := &voucher.Voucher{
			Code:          v.Code,
			Kind:          v.Kind,
			Value:         v.Value,
			MinOrderValue: v.MinOrderValue,
			MaxDiscount:   v.MaxDiscount,
			UsageLimit:    v.UsageLimit,
			Active:        true,
			Scope:         v.Scope,
			ApplicableIDs: v.ApplicableIDs,
			Description:   v.Description,
		}
		if err := s.vouchers.Upsert(ctx, vc); err != nil {
			return err
		}
		s.lg.Info("Upserted voucher", zap.String("code", vc.Code), zap.Int64("id", vc.ID))
	}

	for _, a := range c.Addresses {
		_, err := s.catalog.DefaultAddress(ctx, a.UserID)
		switch {
		case err == nil:
			s.lg.Debug("Default address exists", zap.Int64("user_id", a.UserID))
			continue
		case !errors.Is(err, catalog.ErrNoDefaultAddress):
			return err
		}
		addr := &catalog.Address{
			UserID:    a.UserID,
			Recipient: a.Recipient,
			Phone:     a.Phone,
			Line:      a.Line,
			IsDefault: true,
		}
		if err := s.catalog.AddAddress(ctx, addr); err != nil {
			return err
		}
	}

	for _, it := range c.Carts {
		err := s.catalog.AddItem(ctx, it.UserID, catalog.CartItem{
			Key:      inventory.VariantKey{ProductID: it.ProductID, Color: it.Color, Size: it.Size},
			Quantity: it.Quantity,
		})
		if err != nil {
			return err
		}
	}
	s.lg.Info("Seeded carts", zap.Int("items", len(c.Carts)))

	for _, k := range c.APIKeys {
		info := &auth.APIKeyInfo{
			KeyHash: auth.HashKey(s.pepper, k.Key),
			Name:    k.Name,
			UserID:  k.UserID,
			Role:    k.Role,
		}
		if err := s.keys.Create(ctx, info); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				s.lg.Debug("API key exists", zap.String("name", k.Name))
				continue
			}
			return err
		}
		s.lg.Info("Created API key", zap.String("name", k.Name), zap.String("role", string(k.Role)))
	}
	return nil
}
