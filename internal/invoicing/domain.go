// Package invoicing implements the invoice draft aggregate: assembling an
// invoice from scanned serial numbers, gating it behind QC review and
// posting the approved document to the ERP.
package invoicing

import (
	"errors"
	"time"
)

// DraftStatus enumerates the lifecycle states of an invoice draft.
type DraftStatus string

const (
	// StatusDraft is the initial, freely editable state.
	StatusDraft DraftStatus = "draft"
	// StatusPendingQC means the draft awaits QC approval. Lines may still
	// be corrected.
	StatusPendingQC DraftStatus = "pending_qc"
	// StatusPosted is terminal: the invoice exists in the ERP.
	StatusPosted DraftStatus = "posted"
	// StatusRejected is terminal: QC declined the draft.
	StatusRejected DraftStatus = "rejected"
	// StatusFailed is terminal for the attempt: the ERP refused the
	// posting. The error is retained on the draft.
	StatusFailed DraftStatus = "failed"
)

// Mutable reports whether lines may be added or removed in this status.
func (s DraftStatus) Mutable() bool {
	return s == StatusDraft || s == StatusPendingQC
}

// Serial validation states.
const (
	ValidationPending   = "pending"
	ValidationValidated = "validated"
	ValidationFailed    = "failed"
)

// InvoiceDraft is one invoice being assembled or already submitted.
type InvoiceDraft struct {
	ID            int64         `json:"id"`
	InvoiceNumber *string       `json:"invoice_number,omitempty"`
	CustomerCode  *string       `json:"customer_code,omitempty"`
	CustomerName  *string       `json:"customer_name,omitempty"`
	BranchID      *int64        `json:"branch_id,omitempty"`
	BranchName    *string       `json:"branch_name,omitempty"`
	UserID        int64         `json:"user_id"`
	Status        DraftStatus   `json:"status"`
	DocDate       time.Time     `json:"doc_date"`
	DueDate       *time.Time    `json:"due_date,omitempty"`
	TotalAmount   float64       `json:"total_amount"`
	ErpDocEntry   *int64        `json:"erp_doc_entry,omitempty"`
	ErpDocNum     *string       `json:"erp_doc_num,omitempty"`
	Payload       *string       `json:"-"`
	ErpResponse   *string       `json:"-"`
	Notes         *string       `json:"notes,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Lines         []InvoiceLine `json:"lines,omitempty"`
}

// CustomerFrozen reports whether the draft's customer has been fixed by an
// accepted line item.
func (d *InvoiceDraft) CustomerFrozen() bool {
	return d.CustomerCode != nil && *d.CustomerCode != ""
}

// InvoiceLine groups serial attachments of one item in one warehouse.
type InvoiceLine struct {
	ID              int64              `json:"id"`
	DraftID         int64              `json:"draft_id"`
	LineNumber      int                `json:"line_number"`
	ItemCode        string             `json:"item_code"`
	ItemDescription string             `json:"item_description"`
	Quantity        float64            `json:"quantity"`
	WarehouseCode   string             `json:"warehouse_code"`
	WarehouseName   string             `json:"warehouse_name"`
	TaxCode         *string            `json:"tax_code,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	Serials         []SerialAttachment `json:"serial_numbers,omitempty"`
}

// SerialAttachment is one serial number bound to a line. Quantity is always
// one for serial-tracked goods.
type SerialAttachment struct {
	ID              int64     `json:"id"`
	LineID          int64     `json:"line_id"`
	DraftID         int64     `json:"draft_id"`
	Serial          string    `json:"serial_number"`
	ItemCode        string    `json:"item_code"`
	ItemDescription string    `json:"item_description"`
	WarehouseCode   string    `json:"warehouse_code"`
	CustomerCode    *string   `json:"customer_code,omitempty"`
	CustomerName    *string   `json:"customer_name,omitempty"`
	BranchID        *int64    `json:"branch_id,omitempty"`
	BranchName      *string   `json:"branch_name,omitempty"`
	Quantity        float64   `json:"quantity"`
	ValidationState string    `json:"validation_status"`
	ValidationError *string   `json:"validation_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Actor identifies the requesting user for authorization checks.
type Actor struct {
	UserID   int64
	Elevated bool
}

// CanAccess reports whether the actor may operate on a draft.
func (a Actor) CanAccess(d *InvoiceDraft) bool {
	return a.Elevated || d.UserID == a.UserID
}

// ListDraftsRequest filters the draft listing.
type ListDraftsRequest struct {
	UserID   int64
	Status   *DraftStatus
	Customer *string
	Search   *string
	DateFrom *time.Time
	DateTo   *time.Time
	Limit    int
	Offset   int
}

// AddedSerial describes the outcome of a successful serial addition.
type AddedSerial struct {
	SerialID        int64
	LineID          int64
	LineNumber      int
	Serial          string
	ItemCode        string
	ItemDescription string
	WarehouseCode   string
	WarehouseName   string
	CustomerLocked  bool
}

var (
	// ErrNotFound indicates a missing draft, line or serial.
	ErrNotFound = errors.New("invoicing: not found")
	// ErrAccessDenied indicates the actor does not own the draft and has no
	// elevated role.
	ErrAccessDenied = errors.New("invoicing: access denied")
	// ErrInvalidStatus indicates the operation is not allowed in the
	// draft's current status.
	ErrInvalidStatus = errors.New("invoicing: operation not allowed in current status")
	// ErrDuplicateSerial indicates the serial is already attached to the
	// draft.
	ErrDuplicateSerial = errors.New("invoicing: serial number already in draft")
	// ErrCustomerMismatch indicates a serial resolving to a customer other
	// than the draft's frozen one.
	ErrCustomerMismatch = errors.New("invoicing: customer is frozen for this draft")
	// ErrEmptyDraft indicates the draft has no line items.
	ErrEmptyDraft = errors.New("invoicing: draft has no line items")
	// ErrMissingCustomer indicates submission without a frozen customer.
	ErrMissingCustomer = errors.New("invoicing: draft has no customer assigned")
	// ErrDraftNotEmpty indicates deletion of a draft that still has lines.
	ErrDraftNotEmpty = errors.New("invoicing: draft still has line items")
)
