package invoicing

import (
	"time"

	"github.com/warelink-erp/warelink/internal/erp"
)

// BuildSubmission assembles the ERP invoice payload from a loaded draft.
//
// Lines are grouped by (item code, warehouse code) in first-seen order; the
// group index becomes the zero-based base line number every serial in the
// group references. The line quantity equals the number of serials grouped
// under it. Due date is the document date shifted by the payment term
// offset.
func BuildSubmission(draft *InvoiceDraft, dueDateOffset time.Duration) (*erp.InvoicePayload, error) {
	if len(draft.Lines) == 0 {
		return nil, ErrEmptyDraft
	}
	if !draft.CustomerFrozen() {
		return nil, ErrMissingCustomer
	}

	type groupKey struct {
		itemCode      string
		warehouseCode string
	}

	var order []groupKey
	groups := make(map[groupKey]*erp.SubmissionLine)

	for _, line := range draft.Lines {
		for _, serial := range line.Serials {
			key := groupKey{itemCode: serial.ItemCode, warehouseCode: serial.WarehouseCode}
			group, ok := groups[key]
			if !ok {
				group = &erp.SubmissionLine{
					ItemCode:        serial.ItemCode,
					ItemDescription: serial.ItemDescription,
					WarehouseCode:   serial.WarehouseCode,
				}
				if line.TaxCode != nil {
					group.TaxCode = *line.TaxCode
				}
				groups[key] = group
				order = append(order, key)
			}
			group.Quantity += serial.Quantity
			group.SerialNumbers = append(group.SerialNumbers, erp.SubmissionSerial{
				InternalSerialNumber: serial.Serial,
				Quantity:             serial.Quantity,
			})
		}
	}
	if len(order) == 0 {
		return nil, ErrEmptyDraft
	}

	lines := make([]erp.SubmissionLine, 0, len(order))
	for i, key := range order {
		group := groups[key]
		for j := range group.SerialNumbers {
			group.SerialNumbers[j].BaseLineNumber = i
		}
		lines = append(lines, *group)
	}

	payload := &erp.InvoicePayload{
		DocDate:    erp.FormatDocDate(draft.DocDate),
		DocDueDate: erp.FormatDocDate(draft.DocDate.Add(dueDateOffset)),
		CardCode:   *draft.CustomerCode,
		Lines:      lines,
	}
	if draft.BranchID != nil {
		payload.BranchID = *draft.BranchID
	}
	if draft.BranchName != nil {
		payload.BranchName = *draft.BranchName
	}
	return payload, nil
}
