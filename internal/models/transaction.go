package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction is one append-only ledger record of an attempted money
// movement. Corrections and reversals are always new rows; a completed
// transaction is never amended in place.
type Transaction struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Reference string `gorm:"uniqueIndex;not null" json:"reference"`
	Type      string `gorm:"not null;index" json:"type"`
	Status    string `gorm:"default:pending;not null;index" json:"status"`

	// Signed amount. Refunds and payouts are negative from the platform's
	// point of view; the sign is chosen by the payment service.
	Amount   float64 `gorm:"type:decimal(15,2);not null" json:"amount"`
	Currency string  `gorm:"default:USD" json:"currency"`
	Fee      float64 `gorm:"type:decimal(15,2);default:0" json:"fee"`
	Net      float64 `gorm:"type:decimal(15,2);default:0" json:"net"`

	// Context. At most one of invoice/project/proposal applies in practice;
	// ownership is always re-derived from the user graph, never cached here.
	UserID     uint  `gorm:"not null;index" json:"user_id"`
	InvoiceID  *uint `gorm:"index" json:"invoice_id"`
	ProjectID  *uint `gorm:"index" json:"project_id"`
	ProposalID *uint `gorm:"index" json:"proposal_id"`

	PaymentMethod string `gorm:"index" json:"payment_method"`

	// Gateway references
	GatewayCustomerID string `json:"gateway_customer_id,omitempty"`
	GatewayIntentID   string `gorm:"index" json:"gateway_intent_id,omitempty"`
	GatewayChargeID   string `json:"gateway_charge_id,omitempty"`

	// Billing details snapshot at the time of the attempt
	BillingName    string `json:"billing_name,omitempty"`
	BillingEmail   string `json:"billing_email,omitempty"`
	BillingAddress string `json:"billing_address,omitempty"`

	Description   string     `gorm:"type:text" json:"description"`
	ReceiptPath   *string    `json:"receipt_path,omitempty"`
	FailureReason *string    `gorm:"type:text" json:"failure_reason,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Associations
	User     User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Invoice  *Invoice `gorm:"foreignKey:InvoiceID" json:"invoice,omitempty"`
	Project  *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Proposal *Proposal `gorm:"foreignKey:ProposalID" json:"proposal,omitempty"`
}

// TableName specifies the table name for Transaction
func (Transaction) TableName() string {
	return "transactions"
}

// Transaction type constants
const (
	TransactionTypePayment  = "payment"
	TransactionTypeRefund   = "refund"
	TransactionTypePayout   = "payout"
	TransactionTypeTransfer = "transfer"
	TransactionTypeFee      = "fee"
)

// Transaction status constants
const (
	TransactionStatusPending    = "pending"
	TransactionStatusProcessing = "processing"
	TransactionStatusCompleted  = "completed"
	TransactionStatusFailed     = "failed"
	TransactionStatusCancelled  = "cancelled"
	TransactionStatusRefunded   = "refunded"
	TransactionStatusDisputed   = "disputed"
)

// Payment method constants
const (
	PaymentMethodCard         = "card"
	PaymentMethodBankTransfer = "bank_transfer"
)

// RefundReferencePrefix names a refund row after the transaction it reverses
const RefundReferencePrefix = "refund_"

// RefundReference derives the conventional reference for a refund of this
// transaction.
func (t *Transaction) RefundReference() string {
	return RefundReferencePrefix + t.Reference
}

// RecomputeNet derives net from amount and fee. Negative net is allowed and
// not clamped; a fee larger than the amount is the gateway's problem to
// explain, not ours to hide.
func (t *Transaction) RecomputeNet() {
	t.Net = round2(t.Amount - t.Fee)
}

// BeforeSave keeps net consistent on every write
func (t *Transaction) BeforeSave(tx *gorm.DB) error {
	t.RecomputeNet()
	return nil
}

// IsTerminal returns true once the row will no longer change in place
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// MayComplete returns true if the transaction can still settle
func (t *Transaction) MayComplete() bool {
	return t.Status == TransactionStatusPending || t.Status == TransactionStatusProcessing
}

// MayCancel returns true if the attempt can be abandoned
func (t *Transaction) MayCancel() bool {
	return t.Status == TransactionStatusPending || t.Status == TransactionStatusProcessing
}

// TransactionResponse is the JSON response format for transactions
type TransactionResponse struct {
	ID            uint       `json:"id"`
	Reference     string     `json:"reference"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	Fee           float64    `json:"fee"`
	Net           float64    `json:"net"`
	PaymentMethod string     `json:"payment_method"`
	InvoiceID     *uint      `json:"invoice_id,omitempty"`
	ProjectID     *uint      `json:"project_id,omitempty"`
	ProposalID    *uint      `json:"proposal_id,omitempty"`
	Description   string     `json:"description,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at"`
	CreatedAt     time.Time  `json:"created_at"`
	HasReceipt    bool       `json:"has_receipt"`

	InvoiceNumber string `json:"invoice_number,omitempty"`
	UserName      string `json:"user_name,omitempty"`
}

// ToResponse converts Transaction to TransactionResponse
func (t *Transaction) ToResponse() TransactionResponse {
	resp := TransactionResponse{
		ID:            t.ID,
		Reference:     t.Reference,
		Type:          t.Type,
		Status:        t.Status,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Fee:           t.Fee,
		Net:           t.Net,
		PaymentMethod: t.PaymentMethod,
		InvoiceID:     t.InvoiceID,
		ProjectID:     t.ProjectID,
		ProposalID:    t.ProposalID,
		Description:   t.Description,
		FailureReason: t.FailureReason,
		ProcessedAt:   t.ProcessedAt,
		CreatedAt:     t.CreatedAt,
		HasReceipt:    t.ReceiptPath != nil,
	}

	if t.Invoice != nil {
		resp.InvoiceNumber = t.Invoice.Number
	}
	if t.User.ID != 0 {
		resp.UserName = t.User.FullName
	}

	return resp
}
