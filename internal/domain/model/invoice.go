package model

import "time"

type PaymentStatus string

const (
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusOpen   PaymentStatus = "open"
	PaymentStatusFailed PaymentStatus = "failed"
	PaymentStatusVoid   PaymentStatus = "void"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusOpen, PaymentStatusFailed, PaymentStatusVoid:
		return true
	}
	return false
}

// Invoice is written by the billing-event hand-off and read for display only.
type Invoice struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	SubscriptionID    string        `json:"subscription_id"`
	InvoiceNumber     string        `json:"invoice_number"`
	Amount            int64         `json:"amount"`
	TotalAmount       int64         `json:"total_amount"`
	Currency          string        `json:"currency"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	PaymentDate       *time.Time    `json:"payment_date,omitempty"`
	ProviderInvoiceID string        `json:"provider_invoice_id"`
	CreatedAt         time.Time     `json:"created_at"`
}

// BillingCustomer maps a local user to the provider customer object.
type BillingCustomer struct {
	UserID             string    `json:"user_id"`
	ProviderCustomerID string    `json:"provider_customer_id"`
	Email              string    `json:"email"`
	CreatedAt          time.Time `json:"created_at"`
}
