package models

// ReceiptRequest is the body posted to the verifyReceipt endpoint
type ReceiptRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions"`
}

// ReceiptResponse represents the verifyReceipt response
type ReceiptResponse struct {
	Status            int           `json:"status"`
	Environment       string        `json:"environment"`
	LatestReceiptInfo []ReceiptInfo `json:"latest_receipt_info"`
	Receipt           struct {
		BundleID string        `json:"bundle_id"`
		InApp    []ReceiptInfo `json:"in_app"`
	} `json:"receipt"`
	LatestReceipt      string        `json:"latest_receipt"`
	PendingRenewalInfo []RenewalPref `json:"pending_renewal_info"`
}

// ReceiptInfo is one transaction entry of a verified receipt.
// Apple encodes all numbers in this payload as strings.
type ReceiptInfo struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDate           string `json:"expires_date"`
	ExpiresDateMS         string `json:"expires_date_ms"`
}

// RenewalPref is an entry of pending_renewal_info
type RenewalPref struct {
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
	AutoRenewStatus       string `json:"auto_renew_status"`
}

// Entries merges latest_receipt_info and receipt.in_app, latest first.
func (r *ReceiptResponse) Entries() []ReceiptInfo {
	entries := make([]ReceiptInfo, 0, len(r.LatestReceiptInfo)+len(r.Receipt.InApp))
	entries = append(entries, r.LatestReceiptInfo...)
	entries = append(entries, r.Receipt.InApp...)
	return entries
}
