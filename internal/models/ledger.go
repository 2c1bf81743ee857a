package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerReason classifies a balance-affecting event.
type LedgerReason string

const (
	ReasonPurchase   LedgerReason = "purchase"
	ReasonBoostSpend LedgerReason = "boost_spend"
	ReasonGift       LedgerReason = "gift"
	ReasonRefund     LedgerReason = "refund"
	ReasonReferral   LedgerReason = "referral"
)

func (r LedgerReason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonBoostSpend, ReasonGift, ReasonRefund, ReasonReferral:
		return true
	}
	return false
}

// LedgerEntry is an immutable, append-only balance change. Delta is signed;
// BalanceAfter is the account balance once this entry applied.
type LedgerEntry struct {
	ID           uuid.UUID    `json:"id"`
	AccountID    uuid.UUID    `json:"account_id"`
	Delta        int64        `json:"delta"`
	Reason       LedgerReason `json:"reason"`
	ReferenceID  string       `json:"reference_id"`
	BalanceAfter int64        `json:"balance_after"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Discrepancy reports an account whose balance disagrees with its entries.
type Discrepancy struct {
	AccountID  uuid.UUID `json:"account_id"`
	Balance    int64     `json:"balance"`
	EntriesSum int64     `json:"entries_sum"`
}

// SpendCap bounds the points an account may debit for Reason since Since.
// Stores check it under the same lock as the debit itself.
type SpendCap struct {
	Reason LedgerReason
	Since  time.Time
	Limit  int64
}
