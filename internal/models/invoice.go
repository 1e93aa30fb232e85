package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Invoice represents a billing document aggregating line items into a payable total
type Invoice struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Number string `gorm:"uniqueIndex;not null" json:"number"`
	Type   string `gorm:"not null;index" json:"type"`
	Status string `gorm:"default:draft;not null;index" json:"status"`

	// Parties. Which reference is required depends on Type.
	ClientID     *uint `gorm:"index" json:"client_id"`
	ConsultantID *uint `gorm:"index" json:"consultant_id"`
	ProjectID    *uint `gorm:"index" json:"project_id"`
	ProposalID   *uint `gorm:"index" json:"proposal_id"`

	// Invoice-level rates applied on top of per-item rates
	TaxRate      float64 `gorm:"type:decimal(5,2);default:0" json:"tax_rate"`
	DiscountRate float64 `gorm:"type:decimal(5,2);default:0" json:"discount_rate"`

	// Derived aggregates. Never set directly; RecomputeTotals owns them.
	Subtotal       float64 `gorm:"type:decimal(15,2);default:0" json:"subtotal"`
	TaxAmount      float64 `gorm:"type:decimal(15,2);default:0" json:"tax_amount"`
	DiscountAmount float64 `gorm:"type:decimal(15,2);default:0" json:"discount_amount"`
	Total          float64 `gorm:"type:decimal(15,2);default:0" json:"total"`

	PlatformFeeAmount  float64 `gorm:"type:decimal(15,2);default:0" json:"platform_fee_amount"`
	PlatformFeePercent float64 `gorm:"type:decimal(5,2);default:0" json:"platform_fee_percent"`

	PaidAmount float64 `gorm:"type:decimal(15,2);default:0" json:"paid_amount"`
	AmountDue  float64 `gorm:"type:decimal(15,2);default:0" json:"amount_due"`

	Currency  string     `gorm:"default:USD" json:"currency"`
	IssueDate time.Time  `gorm:"type:date;not null" json:"issue_date"`
	DueDate   time.Time  `gorm:"type:date;not null;index" json:"due_date"`
	SentAt    *time.Time `json:"sent_at"`
	PaidAt    *time.Time `json:"paid_at"`

	Notes string `gorm:"type:text" json:"notes"`
	Terms string `gorm:"type:text" json:"terms"`

	// Recurring chain. A recurring invoice spawns successors one period apart,
	// forming a singly-linked chain through ParentInvoiceID.
	IsRecurring        bool       `gorm:"default:false;index" json:"is_recurring"`
	RecurringFrequency string     `json:"recurring_frequency"`
	NextInvoiceDate    *time.Time `json:"next_invoice_date"`
	RemainingCycles    *int       `json:"remaining_cycles"`
	ParentInvoiceID    *uint      `gorm:"index" json:"parent_invoice_id"`
	RelatedInvoiceIDs  []uint     `gorm:"serializer:json" json:"related_invoice_ids"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Items        []InvoiceItem `gorm:"foreignKey:InvoiceID" json:"items"`
	Installments []Installment `gorm:"foreignKey:InvoiceID" json:"installments,omitempty"`
	Client       *User         `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Consultant   *User         `gorm:"foreignKey:ConsultantID" json:"consultant,omitempty"`
	Project      *Project      `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Proposal     *Proposal     `gorm:"foreignKey:ProposalID" json:"proposal,omitempty"`
}

// TableName specifies the table name for Invoice
func (Invoice) TableName() string {
	return "invoices"
}

// InvoiceItem is a single billable entry on an invoice
type InvoiceItem struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	InvoiceID   uint    `gorm:"index" json:"invoice_id"`
	Description string  `gorm:"not null" json:"description"`
	Quantity    float64 `gorm:"type:decimal(10,2);not null" json:"quantity"`
	UnitPrice   float64 `gorm:"type:decimal(15,2);not null" json:"unit_price"`

	// Per-item rates, percentages
	TaxRate      float64 `gorm:"type:decimal(5,2);default:0" json:"tax_rate"`
	DiscountRate float64 `gorm:"type:decimal(5,2);default:0" json:"discount_rate"`

	// Derived, recomputed on every item mutation
	Amount         float64 `gorm:"type:decimal(15,2)" json:"amount"`
	TaxAmount      float64 `gorm:"type:decimal(15,2)" json:"tax_amount"`
	DiscountAmount float64 `gorm:"type:decimal(15,2)" json:"discount_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for InvoiceItem
func (InvoiceItem) TableName() string {
	return "invoice_items"
}

// Installment is one dated partial-payment obligation on an invoice's schedule
type Installment struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	InvoiceID     uint       `gorm:"not null;index" json:"invoice_id"`
	Sequence      int        `gorm:"not null" json:"sequence"`
	DueDate       time.Time  `gorm:"type:date;not null" json:"due_date"`
	Amount        float64    `gorm:"type:decimal(15,2);not null" json:"amount"`
	PaidAmount    float64    `gorm:"type:decimal(15,2);default:0" json:"paid_amount"`
	Status        string     `gorm:"default:pending;not null" json:"status"`
	PaidDate      *time.Time `json:"paid_date"`
	TransactionID *string    `json:"transaction_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Installment
func (Installment) TableName() string {
	return "invoice_installments"
}

// Invoice type constants
const (
	InvoiceTypeClient     = "client"     // billed to the client of a project
	InvoiceTypeConsultant = "consultant" // payout invoice issued by a consultant
	InvoiceTypePlatform   = "platform"   // platform fees
	InvoiceTypeRefund     = "refund"
)

// Invoice status constants
const (
	InvoiceStatusDraft     = "draft"
	InvoiceStatusSent      = "sent"
	InvoiceStatusPending   = "pending"
	InvoiceStatusPartial   = "partial"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusOverdue   = "overdue"
	InvoiceStatusCancelled = "cancelled"
	InvoiceStatusRefunded  = "refunded"
)

// Installment status constants
const (
	InstallmentStatusPending = "pending"
	InstallmentStatusPartial = "partial"
	InstallmentStatusPaid    = "paid"
)

// Recurring frequency constants
const (
	FrequencyWeekly    = "weekly"
	FrequencyBiweekly  = "biweekly"
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
	FrequencyYearly    = "yearly"
)

// OverpaymentPolicy decides what happens when a payment exceeds the amount due.
// The historical behavior is to absorb it silently (amount due goes negative).
type OverpaymentPolicy string

const (
	OverpaymentAllow  OverpaymentPolicy = "allow"
	OverpaymentClamp  OverpaymentPolicy = "clamp"
	OverpaymentReject OverpaymentPolicy = "reject"
)

// Invoice mutation errors
var (
	ErrInvoiceNotRecurring = errors.New("invoice is not configured as recurring")
	ErrRecurringExhausted  = errors.New("recurring invoice has no remaining cycles")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrOverpayment         = errors.New("payment exceeds amount due")
	ErrCancelTerminal      = errors.New("cannot cancel a paid or refunded invoice")
	ErrRefundNotPaid       = errors.New("only paid or partially paid invoices can be refunded")
)

// Totals holds the derived aggregate amounts of an invoice.
type Totals struct {
	Subtotal       float64
	TaxAmount      float64
	DiscountAmount float64
	Total          float64
}

// ComputeItemDerived recomputes an item's amount, discount and tax from its
// quantity, unit price and rates.
func ComputeItemDerived(item *InvoiceItem) {
	discountedUnit := item.UnitPrice * (1 - item.DiscountRate/100)
	item.Amount = round2(discountedUnit * item.Quantity)
	item.DiscountAmount = round2(item.UnitPrice*item.Quantity - item.Amount)
	item.TaxAmount = round2(item.Amount * item.TaxRate / 100)
}

// ComputeTotals derives the aggregate amounts from line items plus the
// invoice-level tax/discount rates and platform fee. Pure so the invariant
// total == subtotal + tax - discount + platformFee is testable without a
// persistence layer.
func ComputeTotals(items []InvoiceItem, taxRate, discountRate, platformFee float64) Totals {
	var t Totals
	for i := range items {
		ComputeItemDerived(&items[i])
		t.Subtotal += items[i].Amount
		t.TaxAmount += items[i].TaxAmount
		t.DiscountAmount += items[i].DiscountAmount
	}
	t.Subtotal = round2(t.Subtotal)
	t.TaxAmount = round2(t.TaxAmount + t.Subtotal*taxRate/100)
	t.DiscountAmount = round2(t.DiscountAmount + t.Subtotal*discountRate/100)
	t.Total = round2(t.Subtotal + t.TaxAmount - t.DiscountAmount + platformFee)
	return t
}

// RecomputeTotals recomputes every derived field on the invoice from its
// items, then refreshes amount due and status. Stored aggregates never win
// over recomputation.
func (inv *Invoice) RecomputeTotals(now time.Time) {
	if inv.PlatformFeePercent > 0 {
		// Fee percent applies to the pre-fee subtotal
		t := ComputeTotals(inv.Items, inv.TaxRate, inv.DiscountRate, 0)
		inv.PlatformFeeAmount = round2(t.Subtotal * inv.PlatformFeePercent / 100)
	}
	t := ComputeTotals(inv.Items, inv.TaxRate, inv.DiscountRate, inv.PlatformFeeAmount)
	inv.Subtotal = t.Subtotal
	inv.TaxAmount = t.TaxAmount
	inv.DiscountAmount = t.DiscountAmount
	inv.Total = t.Total
	inv.refreshPaymentState(now)
}

// refreshPaymentState recomputes amount due and derives the payment status.
// Terminal states and draft are sticky; overdue is forced by the due date.
func (inv *Invoice) refreshPaymentState(now time.Time) {
	inv.AmountDue = round2(inv.Total - inv.PaidAmount)

	if inv.IsTerminal() || inv.Status == InvoiceStatusDraft {
		return
	}

	switch {
	// A fully discounted invoice owes nothing and counts as paid once issued
	case inv.PaidAmount >= inv.Total:
		inv.Status = InvoiceStatusPaid
		if inv.PaidAt == nil {
			paidAt := now
			inv.PaidAt = &paidAt
		}
	case inv.PaidAmount > 0:
		inv.Status = InvoiceStatusPartial
	default:
		// Reachable when a previously recorded payment is backed out:
		// paid/partial revert to pending once nothing has been paid.
		if inv.Status == InvoiceStatusPaid || inv.Status == InvoiceStatusPartial {
			inv.Status = InvoiceStatusPending
		}
		inv.PaidAt = nil
	}

	if inv.Status != InvoiceStatusPaid && now.After(inv.DueDate) {
		inv.Status = InvoiceStatusOverdue
	}
}

// IsTerminal returns true for sticky end states
func (inv *Invoice) IsTerminal() bool {
	return inv.Status == InvoiceStatusCancelled || inv.Status == InvoiceStatusRefunded
}

// IsOverdue returns true if the invoice is past due and still owed
func (inv *Invoice) IsOverdue(now time.Time) bool {
	return !inv.IsTerminal() && inv.Status != InvoiceStatusDraft &&
		inv.Status != InvoiceStatusPaid && now.After(inv.DueDate)
}

// MayCancel returns true if the invoice can still be cancelled
func (inv *Invoice) MayCancel() bool {
	return inv.Status != InvoiceStatusPaid && inv.Status != InvoiceStatusRefunded
}

// MayRefund returns true if the invoice holds funds that can be refunded
func (inv *Invoice) MayRefund() bool {
	return inv.Status == InvoiceStatusPaid || inv.Status == InvoiceStatusPartial
}

// MaySend returns true if the invoice is still a draft
func (inv *Invoice) MaySend() bool {
	return inv.Status == InvoiceStatusDraft
}

// RecipientUserID returns the user the invoice is addressed to: the client
// for client and platform invoices, the consultant for payout invoices.
func (inv *Invoice) RecipientUserID() *uint {
	if inv.Type == InvoiceTypeConsultant {
		return inv.ConsultantID
	}
	return inv.ClientID
}

// ApplyPayment folds a received amount into the invoice: cumulative paid
// amount, derived status, and the payment schedule filled greedily in order.
// txnRef is stamped on each installment the payment touches.
func (inv *Invoice) ApplyPayment(amount float64, txnRef string, now time.Time, policy OverpaymentPolicy) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if inv.IsTerminal() {
		return fmt.Errorf("invoice %s is %s: %w", inv.Number, inv.Status, ErrCancelTerminal)
	}

	if amount > inv.AmountDue {
		switch policy {
		case OverpaymentReject:
			return ErrOverpayment
		case OverpaymentClamp:
			amount = inv.AmountDue
			if amount <= 0 {
				return ErrOverpayment
			}
		}
		// OverpaymentAllow: absorbed silently, amount due may go negative
	}

	inv.PaidAmount = round2(inv.PaidAmount + amount)
	inv.refreshPaymentState(now)

	remaining := amount
	for i := range inv.Installments {
		if remaining <= 0 {
			break
		}
		inst := &inv.Installments[i]
		if inst.Status == InstallmentStatusPaid {
			continue
		}
		owed := inst.Amount - inst.PaidAmount
		if owed <= 0 {
			continue
		}
		applied := math.Min(remaining, owed)
		inst.PaidAmount = round2(inst.PaidAmount + applied)
		remaining = round2(remaining - applied)

		if inst.PaidAmount >= inst.Amount {
			inst.Status = InstallmentStatusPaid
		} else {
			inst.Status = InstallmentStatusPartial
		}
		if inst.PaidDate == nil {
			paidDate := now
			inst.PaidDate = &paidDate
		}
		if inst.TransactionID == nil && txnRef != "" {
			ref := txnRef
			inst.TransactionID = &ref
		}
	}

	return nil
}

// Cancel marks the invoice cancelled. Paid and refunded invoices are immutable.
func (inv *Invoice) Cancel(reason string) error {
	if !inv.MayCancel() {
		return ErrCancelTerminal
	}
	inv.Status = InvoiceStatusCancelled
	if reason != "" {
		inv.AppendNote("Cancelled: " + reason)
	}
	return nil
}

// MarkRefunded records the presentation state of a refund: full refunds move
// the invoice to refunded, partial refunds leave it partial with a note.
// It does not touch PaidAmount or create a ledger row; the payment service
// composes this with the refund transaction in one unit of work.
func (inv *Invoice) MarkRefunded(amount *float64) error {
	if !inv.MayRefund() {
		return ErrRefundNotPaid
	}
	if amount != nil && *amount > 0 && *amount < inv.PaidAmount {
		inv.Status = InvoiceStatusPartial
		inv.AppendNote(fmt.Sprintf("Partial refund of %.2f %s issued", *amount, inv.Currency))
		return nil
	}
	inv.Status = InvoiceStatusRefunded
	inv.AppendNote("Refund issued")
	return nil
}

// AppendNote adds a line to the invoice's free-text notes
func (inv *Invoice) AppendNote(note string) {
	if strings.TrimSpace(inv.Notes) == "" {
		inv.Notes = note
		return
	}
	inv.Notes = inv.Notes + "\n" + note
}

// NextDueDate returns now advanced by one recurring period.
// Unknown frequencies fall back to 30 days.
func NextDueDate(frequency string, now time.Time) time.Time {
	switch frequency {
	case FrequencyWeekly:
		return now.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return now.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return now.AddDate(0, 1, 0)
	case FrequencyQuarterly:
		return now.AddDate(0, 3, 0)
	case FrequencyYearly:
		return now.AddDate(1, 0, 0)
	default:
		return now.AddDate(0, 0, 30)
	}
}

// GenerateRecurring clones the billing-relevant fields into a successor
// invoice: same items, parties, terms and rates, zero paid amount, draft
// status, a due date one period out, and one fewer remaining cycle. The
// caller persists the child and links it back via LinkChild.
func (inv *Invoice) GenerateRecurring(number string, now time.Time) (*Invoice, error) {
	if !inv.IsRecurring || inv.RecurringFrequency == "" {
		return nil, ErrInvoiceNotRecurring
	}
	if inv.RemainingCycles != nil && *inv.RemainingCycles <= 0 {
		return nil, ErrRecurringExhausted
	}

	child := &Invoice{
		Number:             number,
		Type:               inv.Type,
		Status:             InvoiceStatusDraft,
		ClientID:           inv.ClientID,
		ConsultantID:       inv.ConsultantID,
		ProjectID:          inv.ProjectID,
		ProposalID:         inv.ProposalID,
		TaxRate:            inv.TaxRate,
		DiscountRate:       inv.DiscountRate,
		PlatformFeeAmount:  inv.PlatformFeeAmount,
		PlatformFeePercent: inv.PlatformFeePercent,
		Currency:           inv.Currency,
		IssueDate:          now,
		DueDate:            NextDueDate(inv.RecurringFrequency, now),
		Terms:              inv.Terms,
		IsRecurring:        inv.IsRecurring,
		RecurringFrequency: inv.RecurringFrequency,
		ParentInvoiceID:    &inv.ID,
	}

	for _, item := range inv.Items {
		child.Items = append(child.Items, InvoiceItem{
			Description:  item.Description,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			TaxRate:      item.TaxRate,
			DiscountRate: item.DiscountRate,
		})
	}

	if inv.RemainingCycles != nil {
		cycles := *inv.RemainingCycles - 1
		child.RemainingCycles = &cycles
		inv.RemainingCycles = &cycles
	}
	next := NextDueDate(inv.RecurringFrequency, now)
	child.NextInvoiceDate = &next
	inv.NextInvoiceDate = &next

	child.RecomputeTotals(now)
	return child, nil
}

// LinkChild appends a generated successor's id to the recurring chain
func (inv *Invoice) LinkChild(childID uint) {
	inv.RelatedInvoiceIDs = append(inv.RelatedInvoiceIDs, childID)
}

// round2 rounds to 2 decimal places, the storage precision for money columns
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// InvoiceResponse is the JSON response format for invoices
type InvoiceResponse struct {
	ID                uint          `json:"id"`
	Number            string        `json:"number"`
	Type              string        `json:"type"`
	Status            string        `json:"status"`
	Currency          string        `json:"currency"`
	Subtotal          float64       `json:"subtotal"`
	TaxAmount         float64       `json:"tax_amount"`
	DiscountAmount    float64       `json:"discount_amount"`
	PlatformFeeAmount float64       `json:"platform_fee_amount"`
	Total             float64       `json:"total"`
	PaidAmount        float64       `json:"paid_amount"`
	AmountDue         float64       `json:"amount_due"`
	IssueDate         time.Time     `json:"issue_date"`
	DueDate           time.Time     `json:"due_date"`
	OverdueDays       int           `json:"overdue_days"`
	IsRecurring       bool          `json:"is_recurring"`
	RemainingCycles   *int          `json:"remaining_cycles,omitempty"`
	ParentInvoiceID   *uint         `json:"parent_invoice_id,omitempty"`
	Items             []InvoiceItem `json:"items"`
	Installments      []Installment `json:"installments,omitempty"`
	Notes             string        `json:"notes,omitempty"`

	ClientName     string `json:"client_name,omitempty"`
	ConsultantName string `json:"consultant_name,omitempty"`
	ProjectTitle   string `json:"project_title,omitempty"`
}

// OverdueDays returns the number of days the invoice is past due
func (inv *Invoice) OverdueDays(now time.Time) int {
	if !inv.IsOverdue(now) {
		return 0
	}
	return int(now.Sub(inv.DueDate).Hours() / 24)
}

// ToResponse converts Invoice to InvoiceResponse
func (inv *Invoice) ToResponse() InvoiceResponse {
	resp := InvoiceResponse{
		ID:                inv.ID,
		Number:            inv.Number,
		Type:              inv.Type,
		Status:            inv.Status,
		Currency:          inv.Currency,
		Subtotal:          inv.Subtotal,
		TaxAmount:         inv.TaxAmount,
		DiscountAmount:    inv.DiscountAmount,
		PlatformFeeAmount: inv.PlatformFeeAmount,
		Total:             inv.Total,
		PaidAmount:        inv.PaidAmount,
		AmountDue:         inv.AmountDue,
		IssueDate:         inv.IssueDate,
		DueDate:           inv.DueDate,
		OverdueDays:       inv.OverdueDays(time.Now()),
		IsRecurring:       inv.IsRecurring,
		RemainingCycles:   inv.RemainingCycles,
		ParentInvoiceID:   inv.ParentInvoiceID,
		Items:             inv.Items,
		Installments:      inv.Installments,
		Notes:             inv.Notes,
	}

	if inv.Client != nil {
		resp.ClientName = inv.Client.FullName
	}
	if inv.Consultant != nil {
		resp.ConsultantName = inv.Consultant.FullName
	}
	if inv.Project != nil {
		resp.ProjectTitle = inv.Project.Title
	}

	return resp
}
