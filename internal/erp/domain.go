// Package erp wraps the external ERP Service Layer HTTP API. It owns no
// business logic: it authenticates, reads master data, resolves serial
// numbers and posts invoices, normalizing the remote's loosely cased
// responses into typed records at this boundary.
package erp

import (
	"errors"
	"fmt"
	"time"
)

// BusinessPartner is a customer record from the ERP.
type BusinessPartner struct {
	Code string `json:"card_code"`
	Name string `json:"card_name"`
}

// ResolvedSerial carries the attributes the ERP reports for a serial number.
// Key-name reconciliation ("ItemName" vs "itemName") happens once, here.
type ResolvedSerial struct {
	Serial        string `json:"serial_number"`
	ItemCode      string `json:"item_code"`
	ItemName      string `json:"item_name"`
	WarehouseCode string `json:"warehouse_code"`
	WarehouseName string `json:"warehouse_name"`
	BranchID      int64  `json:"branch_id"`
	BranchName    string `json:"branch_name"`
	CustomerCode  string `json:"customer_code"`
	CustomerName  string `json:"customer_name"`
}

// SubmissionSerial tags one serial with its submission line.
type SubmissionSerial struct {
	InternalSerialNumber string  `json:"InternalSerialNumber"`
	BaseLineNumber       int     `json:"BaseLineNumber"`
	Quantity             float64 `json:"Quantity"`
}

// SubmissionLine is one grouped document line of an invoice submission.
type SubmissionLine struct {
	ItemCode        string             `json:"ItemCode"`
	ItemDescription string             `json:"ItemDescription"`
	Quantity        float64            `json:"Quantity"`
	WarehouseCode   string             `json:"WarehouseCode"`
	TaxCode         string             `json:"TaxCode,omitempty"`
	SerialNumbers   []SubmissionSerial `json:"SerialNumbers"`
}

// InvoicePayload is the document posted to the ERP.
type InvoicePayload struct {
	DocDate    string           `json:"DocDate"`
	DocDueDate string           `json:"DocDueDate"`
	BranchID   int64            `json:"BPL_IDAssignedToInvoice"`
	BranchName string           `json:"BPLName,omitempty"`
	CardCode   string           `json:"CardCode"`
	Lines      []SubmissionLine `json:"DocumentLines"`
}

// PostedInvoice is the ERP's acknowledgement of a created invoice.
type PostedInvoice struct {
	DocEntry int64
	DocNum   string
	DocTotal float64
}

// FormatDocDate renders a time in the ERP's document date format.
func FormatDocDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// ErrUnavailable indicates the ERP could not be reached at all. Callers
// degrade to cached or fallback data for reads.
var ErrUnavailable = errors.New("erp: service unavailable")

// ErrSerialNotFound indicates the ERP knows nothing about a serial number.
var ErrSerialNotFound = errors.New("erp: serial number not found")

// RemoteError is a failure reported by the ERP itself. The message is kept
// verbatim so callers can surface it without reinterpretation.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("erp: remote error (status %d)", e.Status)
	}
	return fmt.Sprintf("erp: %s (status %d)", e.Message, e.Status)
}
