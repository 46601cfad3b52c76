package invoicing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warelink-erp/warelink/internal/erp"
	"github.com/warelink-erp/warelink/internal/serials"
)

// memoryStore is an in-memory DraftStore for service tests.
type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	drafts    map[int64]*InvoiceDraft
	lineRows  map[int64]*InvoiceLine
	serialRow map[int64]*SerialAttachment
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		drafts:    make(map[int64]*InvoiceDraft),
		lineRows:  make(map[int64]*InvoiceLine),
		serialRow: make(map[int64]*SerialAttachment),
	}
}

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryStore) CreateDraft(_ context.Context, draft InvoiceDraft) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft.ID = m.id()
	draft.CreatedAt = time.Now()
	draft.UpdatedAt = draft.CreatedAt
	m.drafts[draft.ID] = &draft
	return draft.ID, nil
}

func (m *memoryStore) GetDraftForUpdate(_ context.Context, id int64) (*InvoiceDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *d
	copied.Lines = nil
	return &copied, nil
}

func (m *memoryStore) SerialExists(_ context.Context, draftID int64, serial string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.serialRow {
		if s.DraftID == draftID && s.Serial == serial {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) FindLine(_ context.Context, draftID int64, itemCode, warehouseCode string) (*InvoiceLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lineRows {
		if l.DraftID == draftID && l.ItemCode == itemCode && l.WarehouseCode == warehouseCode {
			copied := *l
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryStore) NextLineNumber(_ context.Context, draftID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, l := range m.lineRows {
		if l.DraftID == draftID && l.LineNumber > max {
			max = l.LineNumber
		}
	}
	return max + 1, nil
}

func (m *memoryStore) InsertLine(_ context.Context, line InvoiceLine) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line.ID = m.id()
	m.lineRows[line.ID] = &line
	return line.ID, nil
}

func (m *memoryStore) AddLineQuantity(_ context.Context, lineID int64, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lineRows[lineID]
	if !ok {
		return ErrNotFound
	}
	l.Quantity += delta
	return nil
}

func (m *memoryStore) InsertSerial(_ context.Context, serial SerialAttachment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.serialRow {
		if s.DraftID == serial.DraftID && s.Serial == serial.Serial {
			return 0, ErrDuplicateSerial
		}
	}
	serial.ID = m.id()
	m.serialRow[serial.ID] = &serial
	return serial.ID, nil
}

func (m *memoryStore) GetSerial(_ context.Context, serialID int64) (*SerialAttachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.serialRow[serialID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memoryStore) DeleteSerial(_ context.Context, serialID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.serialRow, serialID)
	return nil
}

func (m *memoryStore) CountLineSerials(_ context.Context, lineID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.serialRow {
		if s.LineID == lineID {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) DeleteLine(_ context.Context, lineID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lineRows, lineID)
	return nil
}

func (m *memoryStore) CountDraftLines(_ context.Context, draftID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, l := range m.lineRows {
		if l.DraftID == draftID {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) DeleteDraftLines(_ context.Context, draftID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.serialRow {
		if s.DraftID == draftID {
			delete(m.serialRow, id)
		}
	}
	deleted := 0
	for id, l := range m.lineRows {
		if l.DraftID == draftID {
			delete(m.lineRows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryStore) SetDraftCustomer(_ context.Context, draftID int64, code, name string, branchID *int64, branchName *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[draftID]
	if !ok {
		return ErrNotFound
	}
	d.CustomerCode = &code
	d.CustomerName = &name
	d.BranchID = branchID
	d.BranchName = branchName
	return nil
}

func (m *memoryStore) ClearDraftCustomer(_ context.Context, draftID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[draftID]
	if !ok {
		return ErrNotFound
	}
	d.CustomerCode = nil
	d.CustomerName = nil
	d.BranchID = nil
	d.BranchName = nil
	return nil
}

func (m *memoryStore) UpdateDraftStatus(_ context.Context, draftID int64, status DraftStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[draftID]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	return nil
}

func (m *memoryStore) SetDraftNotes(_ context.Context, draftID int64, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[draftID]
	if !ok {
		return ErrNotFound
	}
	d.Notes = &notes
	return nil
}

func (m *memoryStore) RecordSubmission(_ context.Context, draftID int64, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[draftID]
	if !ok {
		return ErrNotFound
	}
	d.Payload = &payload
	return nil
}

func (m *memoryStore) RecordPostingResult(_ context.Context, draftID int64, result PostingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[draftID]
	if !ok {
		return ErrNotFound
	}
	d.Status = result.Status
	d.ErpResponse = &result.Response
	d.ErpDocEntry = result.DocEntry
	d.ErpDocNum = result.DocNum
	d.InvoiceNumber = result.InvoiceNumber
	d.TotalAmount = result.TotalAmount
	return nil
}

func (m *memoryStore) DeleteDraft(_ context.Context, draftID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, draftID)
	return nil
}

func (m *memoryStore) GetDraft(_ context.Context, id int64) (*InvoiceDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *d
	copied.Lines = nil
	for _, l := range m.lineRows {
		if l.DraftID != id {
			continue
		}
		line := *l
		for _, s := range m.serialRow {
			if s.LineID == l.ID {
				line.Serials = append(line.Serials, *s)
			}
		}
		sort.Slice(line.Serials, func(i, j int) bool { return line.Serials[i].ID < line.Serials[j].ID })
		copied.Lines = append(copied.Lines, line)
	}
	sort.Slice(copied.Lines, func(i, j int) bool { return copied.Lines[i].LineNumber < copied.Lines[j].LineNumber })
	return &copied, nil
}

func (m *memoryStore) ListDrafts(_ context.Context, req ListDraftsRequest) ([]InvoiceDraft, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []InvoiceDraft
	for _, d := range m.drafts {
		if d.UserID != req.UserID {
			continue
		}
		if req.Status != nil && d.Status != *req.Status {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryStore) DeleteEmptyDrafts(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, d := range m.drafts {
		if d.UserID != userID || d.Status != StatusDraft {
			continue
		}
		empty := true
		for _, l := range m.lineRows {
			if l.DraftID == id {
				empty = false
				break
			}
		}
		if empty {
			delete(m.drafts, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryStore) DeleteAbandonedDrafts(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for id, d := range m.drafts {
		if d.Status != StatusDraft || !d.CreatedAt.Before(cutoff) {
			continue
		}
		empty := true
		for _, l := range m.lineRows {
			if l.DraftID == id {
				empty = false
				break
			}
		}
		if empty {
			delete(m.drafts, id)
			deleted++
		}
	}
	return deleted, nil
}

type stubSerialResolver struct {
	records map[string]erp.ResolvedSerial
	source  serials.Source
	err     error
}

func (s *stubSerialResolver) Resolve(_ context.Context, serial string) (erp.ResolvedSerial, serials.Source, error) {
	if s.err != nil {
		return erp.ResolvedSerial{}, serials.SourceRemote, s.err
	}
	rec, ok := s.records[serial]
	if !ok {
		return erp.ResolvedSerial{}, serials.SourceRemote, serials.ErrNotFound
	}
	source := s.source
	if source == "" {
		source = serials.SourceRemote
	}
	return rec, source, nil
}

type stubSubmitter struct {
	posted      erp.PostedInvoice
	raw         []byte
	err         error
	calls       int
	lastPayload erp.InvoicePayload
}

func (s *stubSubmitter) SubmitInvoice(_ context.Context, payload erp.InvoicePayload) (erp.PostedInvoice, []byte, error) {
	s.calls++
	s.lastPayload = payload
	if s.err != nil {
		return erp.PostedInvoice{}, nil, s.err
	}
	return s.posted, s.raw, nil
}

func testResolver() *stubSerialResolver {
	return &stubSerialResolver{records: map[string]erp.ResolvedSerial{
		"SN100": {Serial: "SN100", ItemCode: "A100", ItemName: "Widget", WarehouseCode: "WH1", WarehouseName: "Main", BranchID: 3, BranchName: "HQ", CustomerCode: "C1", CustomerName: "Acme"},
		"SN101": {Serial: "SN101", ItemCode: "A100", ItemName: "Widget", WarehouseCode: "WH1", WarehouseName: "Main", BranchID: 3, BranchName: "HQ", CustomerCode: "C1", CustomerName: "Acme"},
		"SN102": {Serial: "SN102", ItemCode: "B200", ItemName: "Gadget", WarehouseCode: "WH2", WarehouseName: "Annex", BranchID: 3, BranchName: "HQ", CustomerCode: "C1", CustomerName: "Acme"},
		"SN200": {Serial: "SN200", ItemCode: "A100", ItemName: "Widget", WarehouseCode: "WH1", WarehouseName: "Main", BranchID: 3, BranchName: "HQ", CustomerCode: "C2", CustomerName: "Globex"},
	}}
}

func newTestService(t *testing.T) (*Service, *memoryStore, *stubSerialResolver, *stubSubmitter) {
	t.Helper()
	store := newMemoryStore()
	resolver := testResolver()
	submitter := &stubSubmitter{
		posted: erp.PostedInvoice{DocEntry: 42, DocNum: "1007", DocTotal: 1250},
		raw:    []byte(`{"DocEntry":42,"DocNum":1007}`),
	}
	svc := NewService(store, resolver, submitter, slog.Default(), 30*24*time.Hour)
	return svc, store, resolver, submitter
}

var owner = Actor{UserID: 1}

func newDraft(t *testing.T, svc *Service) *InvoiceDraft {
	t.Helper()
	draft, err := svc.CreateDraft(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, draft.Status)
	return draft
}

func TestAddSerialFreezesCustomer(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	added, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)
	require.True(t, added.CustomerLocked)

	loaded, err := svc.GetDraft(ctx, owner, draft.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.CustomerCode)
	require.Equal(t, "C1", *loaded.CustomerCode)
	require.NotNil(t, loaded.BranchID)
	require.Equal(t, int64(3), *loaded.BranchID)

	// A serial belonging to a different customer is refused and leaves the
	// draft untouched.
	_, err = svc.AddSerial(ctx, owner, draft.ID, "SN200", "")
	require.ErrorIs(t, err, ErrCustomerMismatch)

	loaded, err = svc.GetDraft(ctx, owner, draft.ID)
	require.NoError(t, err)
	require.Equal(t, "C1", *loaded.CustomerCode)
	require.Len(t, loaded.Lines, 1)

	_, err = svc.AddSerial(ctx, owner, draft.ID, "SN101", "")
	require.NoError(t, err)
}

func TestAddSerialRejectsDuplicate(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	_, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)
	_, err = svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.ErrorIs(t, err, ErrDuplicateSerial)
}

func TestAddSerialGroupsSameItemAndWarehouse(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	first, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)
	second, err := svc.AddSerial(ctx, owner, draft.ID, "SN101", "")
	require.NoError(t, err)
	require.Equal(t, first.LineID, second.LineID)

	third, err := svc.AddSerial(ctx, owner, draft.ID, "SN102", "")
	require.NoError(t, err)
	require.NotEqual(t, first.LineID, third.LineID)

	loaded, err := svc.GetDraft(ctx, owner, draft.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 2)
	require.Equal(t, float64(2), loaded.Lines[0].Quantity)
	require.Len(t, loaded.Lines[0].Serials, 2)
	require.Equal(t, float64(1), loaded.Lines[1].Quantity)
}

func TestAddSerialUnknownSerial(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	draft := newDraft(t, svc)

	_, err := svc.AddSerial(context.Background(), owner, draft.ID, "SN999", "")
	require.ErrorIs(t, err, serials.ErrNotFound)
}

func TestAddSerialStatusGate(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	require.NoError(t, store.UpdateDraftStatus(ctx, draft.ID, StatusPosted))
	_, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.ErrorIs(t, err, ErrInvalidStatus)

	// pending_qc drafts may still be corrected.
	require.NoError(t, store.UpdateDraftStatus(ctx, draft.ID, StatusPendingQC))
	_, err = svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)
}

func TestAddSerialOfflineFallback(t *testing.T) {
	svc, _, resolver, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	resolver.records["SN-OFF"] = erp.ResolvedSerial{Serial: "SN-OFF"}
	resolver.source = serials.SourceOffline

	added, err := svc.AddSerial(ctx, owner, draft.ID, "SN-OFF", "C9")
	require.NoError(t, err)
	require.True(t, added.CustomerLocked)

	loaded, err := svc.GetDraft(ctx, owner, draft.ID)
	require.NoError(t, err)
	require.Equal(t, "C9", *loaded.CustomerCode)
	require.Len(t, loaded.Lines, 1)
	require.Equal(t, ValidationPending, loaded.Lines[0].Serials[0].ValidationState)
}

func TestRemoveSerialDropsEmptyLineKeepsCustomer(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	added, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)

	require.NoError(t, svc.RemoveSerial(ctx, owner, draft.ID, added.SerialID))

	loaded, err := svc.GetDraft(ctx, owner, draft.ID)
	require.NoError(t, err)
	require.Empty(t, loaded.Lines)
	// Removing the last serial does not unfreeze the customer; only a full
	// clear resets it.
	require.NotNil(t, loaded.CustomerCode)
	require.Equal(t, "C1", *loaded.CustomerCode)
}

func TestRemoveSerialDecrementsLineQuantity(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	first, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)
	_, err = svc.AddSerial(ctx, owner, draft.ID, "SN101", "")
	require.NoError(t, err)

	require.NoError(t, svc.RemoveSerial(ctx, owner, draft.ID, first.SerialID))

	loaded, err := svc.GetDraft(ctx, owner, draft.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 1)
	require.Equal(t, float64(1), loaded.Lines[0].Quantity)
	require.Len(t, loaded.Lines[0].Serials, 1)
}

func TestRemoveSerialFromOtherDraft(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	first := newDraft(t, svc)
	second := newDraft(t, svc)

	added, err := svc.AddSerial(ctx, owner, first.ID, "SN100", "")
	require.NoError(t, err)

	err = svc.RemoveSerial(ctx, owner, second.ID, added.SerialID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClearAllResetsCustomer(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	_, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)
	_, err = svc.AddSerial(ctx, owner, draft.ID, "SN102", "")
	require.NoError(t, err)

	cleared, err := svc.ClearAll(ctx, owner, draft.ID)
	require.NoError(t, err)
	require.Equal(t, 2, cleared)

	loaded, err := svc.GetDraft(ctx, owner, draft.ID)
	require.NoError(t, err)
	require.Empty(t, loaded.Lines)
	require.Nil(t, loaded.CustomerCode)
	require.Nil(t, loaded.BranchID)

	// The draft is free for any customer again.
	_, err = svc.AddSerial(ctx, owner, draft.ID, "SN200", "")
	require.NoError(t, err)

	loaded, err = svc.GetDraft(ctx, owner, draft.ID)
	require.NoError(t, err)
	require.Equal(t, "C2", *loaded.CustomerCode)
}

func TestClearAllOnEmptyDraft(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	draft := newDraft(t, svc)

	_, err := svc.ClearAll(context.Background(), owner, draft.ID)
	require.ErrorIs(t, err, ErrEmptyDraft)
}

func TestSubmitForReview(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	err := svc.SubmitForReview(ctx, owner, draft.ID)
	require.ErrorIs(t, err, ErrEmptyDraft)

	_, err = svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)

	require.NoError(t, svc.SubmitForReview(ctx, owner, draft.ID))

	loaded, err := svc.GetDraft(ctx, owner, draft.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingQC, loaded.Status)

	err = svc.SubmitForReview(ctx, owner, draft.ID)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestApprovePostsInvoice(t *testing.T) {
	svc, _, _, submitter := newTestService(t)
	ctx := context.Background()
	qc := Actor{UserID: 2, Elevated: true}
	draft := newDraft(t, svc)

	_, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)
	_, err = svc.AddSerial(ctx, owner, draft.ID, "SN101", "")
	require.NoError(t, err)
	require.NoError(t, svc.SubmitForReview(ctx, owner, draft.ID))

	posted, err := svc.Approve(ctx, qc, draft.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.NotNil(t, posted.ErpDocEntry)
	require.Equal(t, int64(42), *posted.ErpDocEntry)
	require.NotNil(t, posted.InvoiceNumber)
	require.Equal(t, "1007", *posted.InvoiceNumber)
	require.Equal(t, float64(1250), posted.TotalAmount)

	require.Equal(t, 1, submitter.calls)
	require.Equal(t, "C1", submitter.lastPayload.CardCode)
	require.Len(t, submitter.lastPayload.Lines, 1)
	require.Equal(t, float64(2), submitter.lastPayload.Lines[0].Quantity)

	// Already posted: a second approval is refused without another posting.
	_, err = svc.Approve(ctx, qc, draft.ID)
	require.ErrorIs(t, err, ErrInvalidStatus)
	require.Equal(t, 1, submitter.calls)
}

func TestApproveErpRefusalMarksFailed(t *testing.T) {
	svc, _, _, submitter := newTestService(t)
	ctx := context.Background()
	qc := Actor{UserID: 2, Elevated: true}
	draft := newDraft(t, svc)

	_, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)
	require.NoError(t, svc.SubmitForReview(ctx, owner, draft.ID))

	submitter.err = &erp.RemoteError{Status: 400, Message: "Serial number SN100 already invoiced"}

	_, err = svc.Approve(ctx, qc, draft.ID)
	var remote *erp.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "Serial number SN100 already invoiced", remote.Message)

	loaded, err := svc.GetDraft(ctx, qc, draft.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, loaded.Status)
	require.NotNil(t, loaded.ErpResponse)
	require.Equal(t, "Serial number SN100 already invoiced", *loaded.ErpResponse)
	require.NotNil(t, loaded.Payload)
}

func TestApproveRequiresPendingQC(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	qc := Actor{UserID: 2, Elevated: true}
	draft := newDraft(t, svc)

	_, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, qc, draft.ID)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRejectKeepsReason(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	qc := Actor{UserID: 2, Elevated: true}
	draft := newDraft(t, svc)

	_, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)
	require.NoError(t, svc.SubmitForReview(ctx, owner, draft.ID))

	require.NoError(t, svc.Reject(ctx, qc, draft.ID, "wrong warehouse"))

	loaded, err := svc.GetDraft(ctx, qc, draft.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, loaded.Status)
	require.NotNil(t, loaded.Notes)
	require.Equal(t, "wrong warehouse", *loaded.Notes)
}

func TestDraftOwnership(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	stranger := Actor{UserID: 7}
	_, err := svc.GetDraft(ctx, stranger, draft.ID)
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = svc.AddSerial(ctx, stranger, draft.ID, "SN100", "")
	require.ErrorIs(t, err, ErrAccessDenied)

	elevated := Actor{UserID: 7, Elevated: true}
	_, err = svc.GetDraft(ctx, elevated, draft.ID)
	require.NoError(t, err)
}

func TestDeleteDraft(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	draft := newDraft(t, svc)

	_, err := svc.AddSerial(ctx, owner, draft.ID, "SN100", "")
	require.NoError(t, err)

	err = svc.DeleteDraft(ctx, owner, draft.ID)
	require.ErrorIs(t, err, ErrDraftNotEmpty)

	_, err = svc.ClearAll(ctx, owner, draft.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDraft(ctx, owner, draft.ID))
	_, err = svc.GetDraft(ctx, owner, draft.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCleanupEmptyDrafts(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	empty := newDraft(t, svc)
	full := newDraft(t, svc)
	_, err := svc.AddSerial(ctx, owner, full.ID, "SN100", "")
	require.NoError(t, err)

	deleted, err := svc.CleanupEmptyDrafts(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = svc.GetDraft(ctx, owner, empty.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetDraft(ctx, owner, full.ID)
	require.NoError(t, err)
}
