package metering

import (
	"context"
	"fmt"

	"github.com/aimeter/backend/internal/domain/metering"
)

// ValidationReport lists configuration and data problems
type ValidationReport struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// OK reports whether no errors were found
func (r ValidationReport) OK() bool {
	return len(r.Errors) == 0
}

// ValidationService checks configuration and stored data for consistency
type ValidationService struct {
	settings      Settings
	providers     *ProviderRegistry
	usage         metering.UsageRecordRepository
	subscriptions metering.SubscriptionRepository
}

// NewValidationService creates a ValidationService
func NewValidationService(
	settings Settings,
	providers *ProviderRegistry,
	usage metering.UsageRecordRepository,
	subscriptions metering.SubscriptionRepository,
) *ValidationService {
	return &ValidationService{
		settings:      settings,
		providers:     providers,
		usage:         usage,
		subscriptions: subscriptions,
	}
}

// Validate runs every check
func (s *ValidationService) Validate(ctx context.Context) (ValidationReport, error) {
	report := ValidationReport{Errors: []string{}, Warnings: []string{}}

	if err := s.settings.Validate(); err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	if s.providers != nil {
		if err := s.providers.Validate(s.settings); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	creditsWithoutPlan, err := s.subscriptions.CountWithoutPlan(ctx, metering.BillingModeCredits)
	if err != nil {
		return report, err
	}
	if creditsWithoutPlan > 0 {
		report.Errors = append(report.Errors,
			fmt.Sprintf("%d credits-mode subscriptions have no plan", creditsWithoutPlan))
	}

	planWithoutPlan, err := s.subscriptions.CountWithoutPlan(ctx, metering.BillingModePlan)
	if err != nil {
		return report, err
	}
	if planWithoutPlan > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d plan-mode subscriptions have no plan and are unlimited", planWithoutPlan))
	}

	orphaned, err := s.usage.CountWithoutBillable(ctx)
	if err != nil {
		return report, err
	}
	if orphaned > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d usage records are not attributed to a billable", orphaned))
	}

	return report, nil
}
