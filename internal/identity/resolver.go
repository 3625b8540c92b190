package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmretail/settlement-backend/pkg/config"
	"github.com/mmretail/settlement-backend/pkg/db/models"
	"github.com/mmretail/settlement-backend/pkg/logger"
)

// Identity is a resolved merchant/store pair for one platform call.
type Identity struct {
	MerchantID string
	StoreID    string
	// Degraded is set when a dynamic lookup fell back to the static pair.
	// This is an expected path, reported at warn level, never an error.
	Degraded bool
}

// Resolver maps a ledger record to the merchant/store identity used on
// platform requests. Dynamic resolution prefers the record's own identifiers;
// static resolution always uses the configured fallback pair.
type Resolver interface {
	Resolve(ctx context.Context, record *models.SettlementRecord) (Identity, error)
}

type resolver struct {
	cfg    config.IdentityConfig
	logger *logger.Logger
}

// NewResolver validates the fallback pair and returns a resolver.
func NewResolver(cfg config.IdentityConfig, logg *logger.Logger) (Resolver, error) {
	if logg == nil {
		return nil, fmt.Errorf("identity logger required")
	}
	if strings.TrimSpace(cfg.FallbackMerchantID) == "" {
		return nil, fmt.Errorf("fallback merchant id required")
	}
	if strings.TrimSpace(cfg.FallbackStoreID) == "" {
		return nil, fmt.Errorf("fallback store id required")
	}
	return &resolver{cfg: cfg, logger: logg}, nil
}

func (r *resolver) Resolve(ctx context.Context, record *models.SettlementRecord) (Identity, error) {
	if record == nil {
		return Identity{}, fmt.Errorf("record is required")
	}

	id := Identity{
		MerchantID: r.cfg.FallbackMerchantID,
		StoreID:    r.cfg.FallbackStoreID,
	}

	if r.cfg.DynamicMerchantID {
		if v := stringValue(record.MerchantID); v != "" {
			id.MerchantID = v
		} else {
			id.Degraded = true
		}
	}
	if r.cfg.DynamicStoreID {
		if v := stringValue(record.StoreID); v != "" {
			id.StoreID = v
		} else {
			id.Degraded = true
		}
	}

	if id.Degraded {
		ctx = r.logger.WithRecord(ctx, record.BillID, record.DetailID)
		r.logger.Warn(ctx, "dynamic identity missing on record, using static fallback")
	}
	return id, nil
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return strings.TrimSpace(*ptr)
}
