package invoicing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func draftWithSerials(t *testing.T, serials []SerialAttachment) *InvoiceDraft {
	t.Helper()
	line := InvoiceLine{ID: 1, DraftID: 1, LineNumber: 1}
	line.Serials = serials
	return &InvoiceDraft{
		ID:           1,
		CustomerCode: strPtr("C20000"),
		CustomerName: strPtr("Norm Thompson"),
		DocDate:      time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Status:       StatusPendingQC,
		Lines:        []InvoiceLine{line},
	}
}

func TestBuildSubmissionGroupsByItemAndWarehouse(t *testing.T) {
	draft := draftWithSerials(t, []SerialAttachment{
		{Serial: "SN-1", ItemCode: "A100", ItemDescription: "Widget", WarehouseCode: "WH1", Quantity: 1},
		{Serial: "SN-2", ItemCode: "A100", ItemDescription: "Widget", WarehouseCode: "WH1", Quantity: 1},
		{Serial: "SN-3", ItemCode: "B200", ItemDescription: "Gadget", WarehouseCode: "WH1", Quantity: 1},
	})

	payload, err := BuildSubmission(draft, 30*24*time.Hour)
	require.NoError(t, err)

	require.Len(t, payload.Lines, 2)
	require.Equal(t, "A100", payload.Lines[0].ItemCode)
	require.Equal(t, float64(2), payload.Lines[0].Quantity)
	require.Equal(t, "B200", payload.Lines[1].ItemCode)
	require.Equal(t, float64(1), payload.Lines[1].Quantity)

	// Every serial references its group's zero-based index.
	for _, s := range payload.Lines[0].SerialNumbers {
		require.Equal(t, 0, s.BaseLineNumber)
	}
	require.Len(t, payload.Lines[0].SerialNumbers, 2)
	require.Equal(t, 1, payload.Lines[1].SerialNumbers[0].BaseLineNumber)
}

func TestBuildSubmissionSameItemDifferentWarehouse(t *testing.T) {
	draft := draftWithSerials(t, []SerialAttachment{
		{Serial: "SN-1", ItemCode: "A100", WarehouseCode: "WH1", Quantity: 1},
		{Serial: "SN-2", ItemCode: "A100", WarehouseCode: "WH2", Quantity: 1},
	})

	payload, err := BuildSubmission(draft, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, payload.Lines, 2)
	require.Equal(t, "WH1", payload.Lines[0].WarehouseCode)
	require.Equal(t, "WH2", payload.Lines[1].WarehouseCode)
}

func TestBuildSubmissionDatesAndHeader(t *testing.T) {
	draft := draftWithSerials(t, []SerialAttachment{
		{Serial: "SN-1", ItemCode: "A100", WarehouseCode: "WH1", Quantity: 1},
	})
	branchID := int64(3)
	draft.BranchID = &branchID
	draft.BranchName = strPtr("Main Branch")

	payload, err := BuildSubmission(draft, 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, "C20000", payload.CardCode)
	require.Equal(t, int64(3), payload.BranchID)
	require.Equal(t, "Main Branch", payload.BranchName)
	require.Equal(t, "2026-03-10T00:00:00.000000Z", payload.DocDate)
	require.Equal(t, "2026-04-09T00:00:00.000000Z", payload.DocDueDate)
}

func TestBuildSubmissionRejectsEmptyDraft(t *testing.T) {
	draft := &InvoiceDraft{ID: 1, CustomerCode: strPtr("C20000")}
	_, err := BuildSubmission(draft, time.Hour)
	require.ErrorIs(t, err, ErrEmptyDraft)
}

func TestBuildSubmissionRequiresCustomer(t *testing.T) {
	draft := draftWithSerials(t, []SerialAttachment{
		{Serial: "SN-1", ItemCode: "A100", WarehouseCode: "WH1", Quantity: 1},
	})
	draft.CustomerCode = nil
	_, err := BuildSubmission(draft, time.Hour)
	require.ErrorIs(t, err, ErrMissingCustomer)
}
