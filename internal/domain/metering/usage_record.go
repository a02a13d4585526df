package metering

import (
	"regexp"
	"strings"
	"time"

	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

var featureNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{1,100}$`)

// UsageRecord is the immutable fact of one metered call. Records are
// written once (deduplicated by IdempotencyKey) and only removed by
// retention pruning.
type UsageRecord struct {
	shared.BaseEntity
	Billable       BillableRef
	UserID         string
	TenantID       string
	Provider       string
	Model          string
	Feature        string
	InputTokens    *int64
	OutputTokens   *int64
	TotalTokens    *int64
	InputCost      decimal.Decimal
	OutputCost     decimal.Decimal
	TotalCost      decimal.Decimal
	Currency       string
	Meta           map[string]any
	IdempotencyKey string
	OccurredAt     time.Time
}

// NewUsageRecord creates a usage record from a provider usage report.
// Missing costs are stored as zero.
func NewUsageRecord(billable BillableRef, provider, model string, usage ProviderUsage, occurredAt time.Time) (*UsageRecord, error) {
	if strings.TrimSpace(provider) == "" {
		return nil, shared.NewDomainError("INVALID_PROVIDER", "Provider cannot be empty")
	}
	if strings.TrimSpace(model) == "" {
		return nil, shared.NewDomainError("INVALID_MODEL", "Model cannot be empty")
	}
	for _, v := range []*int64{usage.InputTokens, usage.OutputTokens, usage.TotalTokens} {
		if v != nil && *v < 0 {
			return nil, shared.NewDomainError("INVALID_TOKENS", "Token counts cannot be negative")
		}
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	record := &UsageRecord{
		BaseEntity:   shared.NewBaseEntity(),
		Billable:     billable,
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
		InputCost:    decimal.Zero,
		OutputCost:   decimal.Zero,
		TotalCost:    decimal.Zero,
		Currency:     usage.CurrencyOrDefault(),
		Meta:         make(map[string]any),
		OccurredAt:   occurredAt,
	}
	if usage.InputCost != nil {
		record.InputCost = *usage.InputCost
	}
	if usage.OutputCost != nil {
		record.OutputCost = *usage.OutputCost
	}
	if usage.TotalCost != nil {
		record.TotalCost = *usage.TotalCost
	}
	return record, nil
}

// WithFeature tags the record with a product feature name
func (r *UsageRecord) WithFeature(feature string) *UsageRecord {
	r.Feature = feature
	return r
}

// WithIdempotencyKey sets the deduplication key
func (r *UsageRecord) WithIdempotencyKey(key string) *UsageRecord {
	r.IdempotencyKey = key
	return r
}

// WithMeta merges metadata into the record
func (r *UsageRecord) WithMeta(meta map[string]any) *UsageRecord {
	for k, v := range meta {
		r.Meta[k] = v
	}
	return r
}

// WithActors records the user and tenant the call was made for
func (r *UsageRecord) WithActors(user, tenant BillableRef) *UsageRecord {
	r.UserID = user.ID
	r.TenantID = tenant.ID
	return r
}

// Tokens returns the total token count, or 0 when unknown
func (r *UsageRecord) Tokens() int64 {
	if r.TotalTokens != nil {
		return *r.TotalTokens
	}
	return 0
}

// ValidateFeatureName checks a feature tag against the allowed charset
func ValidateFeatureName(feature string) error {
	if feature == "" {
		return nil
	}
	if !featureNamePattern.MatchString(feature) {
		return shared.NewDomainError("INVALID_FEATURE", "Feature name must be 1-100 characters of letters, digits, '_', '-' or '.'")
	}
	return nil
}

// SanitizeMeta drops keys that are too long, nesting deeper than three
// levels and values that are neither scalars nor maps
func SanitizeMeta(meta map[string]any) map[string]any {
	return sanitizeMeta(meta, 1)
}

func sanitizeMeta(meta map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if k == "" || len(k) > 100 {
			continue
		}
		switch val := v.(type) {
		case nil, bool, string, int, int32, int64, float32, float64, decimal.Decimal:
			out[k] = val
		case map[string]any:
			if depth < 3 {
				out[k] = sanitizeMeta(val, depth+1)
			}
		}
	}
	return out
}

// UsageTotals is the aggregate consumption over a window
type UsageTotals struct {
	Calls  int64           `json:"calls"`
	Tokens int64           `json:"tokens"`
	Cost   decimal.Decimal `json:"cost"`
}
