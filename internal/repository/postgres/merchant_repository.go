package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cassiomorais/payflow/internal/domain/payment"
	"github.com/cassiomorais/payflow/internal/domain/webhook"
)

// MerchantRepository resolves processor and webhook settings per merchant.
// It implements payment.MerchantConfigResolver and webhook.DestinationResolver.
type MerchantRepository struct {
	pool *pgxpool.Pool
}

func NewMerchantRepository(pool *pgxpool.Pool) *MerchantRepository {
	return &MerchantRepository{pool: pool}
}

func (r *MerchantRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// ResolveMerchantConfig returns (nil, nil) for an unknown merchant or one without a processor.
func (r *MerchantRepository) ResolveMerchantConfig(ctx context.Context, merchantID string) (*payment.MerchantConfig, error) {
	var (
		processor   *string
		credentials []byte
		testMode    bool
	)
	err := r.db(ctx).QueryRow(ctx,
		`SELECT processor, credentials, test_mode FROM merchants WHERE id = $1`, merchantID,
	).Scan(&processor, &credentials, &testMode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve merchant config: %w", err)
	}
	if processor == nil || *processor == "" {
		return nil, nil
	}

	cfg := &payment.MerchantConfig{
		MerchantID: merchantID,
		Processor:  *processor,
		TestMode:   testMode,
	}
	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &cfg.Credentials); err != nil {
			return nil, fmt.Errorf("decode merchant credentials: %w", err)
		}
	}
	return cfg, nil
}

func (r *MerchantRepository) ResolveWebhookDestination(ctx context.Context, merchantID string) (webhook.Destination, error) {
	var url, secret *string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT webhook_url, webhook_secret FROM merchants WHERE id = $1`, merchantID,
	).Scan(&url, &secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return webhook.Destination{}, nil
		}
		return webhook.Destination{}, fmt.Errorf("resolve webhook destination: %w", err)
	}
	return webhook.Destination{URL: deref(url), Secret: deref(secret)}, nil
}
