package model

import "time"

// TxStatus is the outcome of a single payment transaction.
type TxStatus string

const (
	TxStatusSuccess TxStatus = "SUCCESS"
	TxStatusFailed  TxStatus = "FAILED"
)

// Valid reports whether s is one of the known transaction outcomes.
func (s TxStatus) Valid() bool {
	return s == TxStatusSuccess || s == TxStatusFailed
}

// TransactionEvent is one parsed record from the transaction log.
type TransactionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"transaction_id"`
	Gateway   string    `json:"gateway"`
	Region    string    `json:"region"`
	Status    TxStatus  `json:"status"`
	ErrorCode string    `json:"error_code"`
	LatencyMS int       `json:"latency_ms"`
	Amount    float64   `json:"amount"`
}

// Failed reports whether the transaction was declined or errored.
func (e TransactionEvent) Failed() bool {
	return e.Status == TxStatusFailed
}
