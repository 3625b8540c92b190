package splitplan

import (
	"fmt"

	"github.com/mmretail/settlement-backend/pkg/config"
	"github.com/mmretail/settlement-backend/pkg/db/models"
	"github.com/mmretail/settlement-backend/pkg/enums"
	pkgerrors "github.com/mmretail/settlement-backend/pkg/errors"
)

// Mode tags which of the two mutually exclusive money-movement shapes a plan
// takes. A positive marketing amount always selects marketing mode.
type Mode string

const (
	ModeRegular   Mode = "regular"
	ModeMarketing Mode = "marketing"
)

// Target is one money movement inside a plan. Amounts are in minor units.
type Target struct {
	Kind            enums.TargetKind
	AmountCents     int64
	PayerMerchantID string
	PayeeMerchantID string
	PayerType       enums.AccountType
	PayeeType       enums.AccountType
}

// Plan is the ordered set of transfers one record authorizes. It is produced
// by a single pure function so mode selection lives in exactly one place.
type Plan struct {
	Mode    Mode
	Targets []Target
}

// TotalCents sums the planned movement.
func (p *Plan) TotalCents() int64 {
	var total int64
	for _, t := range p.Targets {
		total += t.AmountCents
	}
	return total
}

// Planner computes split plans from ledger records.
type Planner interface {
	Plan(record *models.SettlementRecord) (*Plan, error)
}

type planner struct {
	cfg config.SplitConfig
}

// NewPlanner returns a planner bound to the configured account defaults.
func NewPlanner(cfg config.SplitConfig) (Planner, error) {
	if err := validateAccountTypes(cfg); err != nil {
		return nil, err
	}
	return &planner{cfg: cfg}, nil
}

func validateAccountTypes(cfg config.SplitConfig) error {
	if !enums.AccountType(cfg.PayerAccountType).IsValid() {
		return fmt.Errorf("invalid payer account type %q", cfg.PayerAccountType)
	}
	if !enums.AccountType(cfg.PayeeAccountType).IsValid() {
		return fmt.Errorf("invalid payee account type %q", cfg.PayeeAccountType)
	}
	return nil
}

// Plan emits the marketing transfer when the marketing amount is positive,
// otherwise up to two regular split targets. A planned total that fails to
// reconcile with the record's amounts is a fatal planning error, never
// silently corrected.
func (p *planner) Plan(record *models.SettlementRecord) (*Plan, error) {
	if record == nil {
		return nil, fmt.Errorf("record is required")
	}

	var plan *Plan
	if record.MarketingMode() {
		plan = p.marketingPlan(record)
	} else {
		plan = p.regularPlan(record)
	}

	if len(plan.Targets) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodePlanningInvariant,
			fmt.Sprintf("record %s/%s has no splittable amounts", record.BillID, record.DetailID))
	}
	for _, t := range plan.Targets {
		if t.PayerMerchantID == "" || t.PayeeMerchantID == "" {
			return nil, pkgerrors.New(pkgerrors.CodePlanningInvariant,
				fmt.Sprintf("record %s/%s target %s is missing a payer or payee account", record.BillID, record.DetailID, t.Kind))
		}
	}
	if got, want := plan.TotalCents(), record.PlannedAmountCents(); got != want {
		return nil, pkgerrors.New(pkgerrors.CodePlanningInvariant,
			fmt.Sprintf("record %s/%s planned %d but authorizes %d", record.BillID, record.DetailID, got, want))
	}
	if paid := record.ChannelAmountCents(); paid > 0 && plan.TotalCents() > paid {
		return nil, pkgerrors.New(pkgerrors.CodePlanningInvariant,
			fmt.Sprintf("record %s/%s plans %d exceeding paid amount %d", record.BillID, record.DetailID, plan.TotalCents(), paid))
	}
	return plan, nil
}

// marketingPlan moves the marketing amount from the marketing sub-account to
// the supplier's payment account. The regular split amounts are bypassed even
// when populated.
func (p *planner) marketingPlan(record *models.SettlementRecord) *Plan {
	return &Plan{
		Mode: ModeMarketing,
		Targets: []Target{{
			Kind:            enums.TargetMarketingToSupplier,
			AmountCents:     record.MarketingAmountCents,
			PayerMerchantID: record.MarketingAccountID,
			PayeeMerchantID: p.payerAccount(record),
			PayerType:       enums.AccountType(p.cfg.PayerAccountType),
			PayeeType:       enums.AccountPayment,
		}},
	}
}

func (p *planner) regularPlan(record *models.SettlementRecord) *Plan {
	payer := p.payerAccount(record)
	plan := &Plan{Mode: ModeRegular}

	if record.FranchiseeAmountCents > 0 {
		plan.Targets = append(plan.Targets, Target{
			Kind:            enums.TargetFranchisee,
			AmountCents:     record.FranchiseeAmountCents,
			PayerMerchantID: payer,
			PayeeMerchantID: p.firstNonEmpty(record.FranchiseePayeeID, p.cfg.FranchiseePayeeID),
			PayerType:       enums.AccountType(p.cfg.PayerAccountType),
			PayeeType:       enums.AccountType(p.cfg.PayeeAccountType),
		})
	}
	if record.CompanyAmountCents > 0 {
		plan.Targets = append(plan.Targets, Target{
			Kind:            enums.TargetCompany,
			AmountCents:     record.CompanyAmountCents,
			PayerMerchantID: payer,
			PayeeMerchantID: p.firstNonEmpty(record.CompanyPayeeID, p.cfg.CompanyPayeeID),
			PayerType:       enums.AccountType(p.cfg.PayerAccountType),
			PayeeType:       enums.AccountType(p.cfg.PayeeAccountType),
		})
	}
	return plan
}

// payerAccount is the franchisee's payment account: the record's own when
// present, the configured default otherwise.
func (p *planner) payerAccount(record *models.SettlementRecord) string {
	return p.firstNonEmpty(record.PayerMerchantID, p.cfg.PayerMerchantID)
}

func (p *planner) firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
