package metering

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReportPeriod selects the window a usage report covers
type ReportPeriod string

const (
	ReportPeriodCurrent  ReportPeriod = "current"
	ReportPeriodPrevious ReportPeriod = "previous"
)

// topBillablesLimit is the number of billables listed in a global report
const topBillablesLimit = 10

// UsageReportLine is one aggregated row of a usage report
type UsageReportLine struct {
	Key    string          `json:"key"`
	Calls  int64           `json:"calls"`
	Tokens int64           `json:"tokens"`
	Cost   decimal.Decimal `json:"cost"`
}

// UsageReport aggregates usage over one period
type UsageReport struct {
	Billable     *metering.BillableRef  `json:"billable,omitempty"`
	Period       metering.BillingPeriod `json:"period"`
	Totals       metering.UsageTotals   `json:"totals"`
	ByModel      []UsageReportLine      `json:"by_model"`
	TopBillables []UsageReportLine      `json:"top_billables,omitempty"`
}

// ReportService builds usage reports
type ReportService struct {
	usage   metering.UsageRecordRepository
	periods *metering.PeriodCalculator
	logger  *zap.Logger
	now     func() time.Time
}

// NewReportService creates a ReportService
func NewReportService(usage metering.UsageRecordRepository, settings Settings, logger *zap.Logger) (*ReportService, error) {
	periods, err := settings.PeriodCalculator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		usage:   usage,
		periods: periods,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Generate builds the report for a billable, or for all billables when
// billable is nil
func (s *ReportService) Generate(ctx context.Context, billable *metering.BillableRef, which ReportPeriod) (*UsageReport, error) {
	var period metering.BillingPeriod
	switch which {
	case ReportPeriodCurrent, "":
		period = s.periods.Period(s.now())
	case ReportPeriodPrevious:
		period = s.periods.Previous(s.now())
	default:
		return nil, fmt.Errorf("unknown report period %q", which)
	}

	filter := metering.UsageRecordFilter{}.WithPeriod(period)
	if billable != nil {
		filter = filter.WithBillable(*billable)
	}
	records, err := s.usage.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage records: %w", err)
	}

	byModel := aggregate(records, func(r *metering.UsageRecord) string {
		return r.Provider + "/" + r.Model
	})
	report := &UsageReport{
		Billable: billable,
		Period:   period,
		Totals:   summarize(records),
		ByModel:  byModel,
	}

	if billable == nil {
		attributed := lo.Filter(records, func(r *metering.UsageRecord, _ int) bool {
			return !r.Billable.IsZero()
		})
		top := aggregate(attributed, func(r *metering.UsageRecord) string {
			return r.Billable.Key()
		})
		sort.SliceStable(top, func(i, j int) bool {
			return top[i].Cost.GreaterThan(top[j].Cost)
		})
		if len(top) > topBillablesLimit {
			top = top[:topBillablesLimit]
		}
		report.TopBillables = top
	}
	return report, nil
}

func summarize(records []*metering.UsageRecord) metering.UsageTotals {
	tokens := lo.SumBy(records, func(r *metering.UsageRecord) int64 {
		return r.Tokens()
	})
	cost := lo.Reduce(records, func(acc decimal.Decimal, r *metering.UsageRecord, _ int) decimal.Decimal {
		return acc.Add(r.TotalCost)
	}, decimal.Zero)
	return metering.UsageTotals{Calls: int64(len(records)), Tokens: tokens, Cost: cost}
}

// aggregate groups records by key and returns lines ordered by key
func aggregate(records []*metering.UsageRecord, key func(*metering.UsageRecord) string) []UsageReportLine {
	groups := lo.GroupBy(records, key)
	keys := lo.Keys(groups)
	sort.Strings(keys)
	return lo.Map(keys, func(k string, _ int) UsageReportLine {
		totals := summarize(groups[k])
		return UsageReportLine{Key: k, Calls: totals.Calls, Tokens: totals.Tokens, Cost: totals.Cost}
	})
}
