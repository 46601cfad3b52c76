package invoicing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warelink-erp/warelink/internal/erp"
	"github.com/warelink-erp/warelink/internal/serials"
)

// SerialResolver resolves a scanned serial to its ERP attributes.
type SerialResolver interface {
	Resolve(ctx context.Context, serial string) (erp.ResolvedSerial, serials.Source, error)
}

// Submitter posts a finished invoice to the ERP.
type Submitter interface {
	SubmitInvoice(ctx context.Context, payload erp.InvoicePayload) (erp.PostedInvoice, []byte, error)
}

// DraftStore is the persistence surface the service operates through.
type DraftStore interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDraft(ctx context.Context, id int64) (*InvoiceDraft, error)
	ListDrafts(ctx context.Context, req ListDraftsRequest) ([]InvoiceDraft, int, error)
	DeleteEmptyDrafts(ctx context.Context, userID int64) (int, error)
	DeleteAbandonedDrafts(ctx context.Context, olderThan time.Duration) (int, error)
}

// Service implements the invoice draft workflow.
type Service struct {
	store         DraftStore
	serials       SerialResolver
	erp           Submitter
	logger        *slog.Logger
	dueDateOffset time.Duration
}

// NewService constructs a Service. dueDateOffset is added to the document
// date to produce the due date at submission time.
func NewService(store DraftStore, resolver SerialResolver, submitter Submitter, logger *slog.Logger, dueDateOffset time.Duration) *Service {
	return &Service{
		store:         store,
		serials:       resolver,
		erp:           submitter,
		logger:        logger,
		dueDateOffset: dueDateOffset,
	}
}

// CreateDraft opens a new empty draft owned by the actor.
func (s *Service) CreateDraft(ctx context.Context, actor Actor) (*InvoiceDraft, error) {
	var id int64
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.CreateDraft(ctx, InvoiceDraft{
			UserID:  actor.UserID,
			Status:  StatusDraft,
			DocDate: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	s.logger.Info("draft created", slog.Int64("draft_id", id), slog.Int64("user_id", actor.UserID))
	return s.store.GetDraft(ctx, id)
}

// GetDraft loads one draft with its lines, enforcing ownership.
func (s *Service) GetDraft(ctx context.Context, actor Actor, id int64) (*InvoiceDraft, error) {
	draft, err := s.store.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(draft) {
		return nil, ErrAccessDenied
	}
	return draft, nil
}

// ListDrafts returns the actor's drafts matching the filters.
func (s *Service) ListDrafts(ctx context.Context, actor Actor, req ListDraftsRequest) ([]InvoiceDraft, int, error) {
	req.UserID = actor.UserID
	return s.store.ListDrafts(ctx, req)
}

// AddSerial resolves a scanned serial number and attaches it to the draft.
//
// The first accepted serial freezes the draft's customer (and branch); every
// later serial must resolve to the same customer. Serials of the same item
// in the same warehouse accumulate on one line.
func (s *Service) AddSerial(ctx context.Context, actor Actor, draftID int64, serial, customerCode string) (*AddedSerial, error) {
	// Resolve before opening the transaction: the ERP round trip must not
	// hold row locks.
	resolved, source, err := s.serials.Resolve(ctx, serial)
	if err != nil {
		return nil, err
	}

	serialCustomer := resolved.CustomerCode
	serialCustomerName := resolved.CustomerName
	if serialCustomer == "" {
		// Offline fallback carries no customer; trust the operator's scan.
		serialCustomer = customerCode
	}

	validation := ValidationValidated
	if source == serials.SourceOffline {
		validation = ValidationPending
	}

	var result AddedSerial
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, err := tx.GetDraftForUpdate(ctx, draftID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(draft) {
			return ErrAccessDenied
		}
		if !draft.Status.Mutable() {
			return ErrInvalidStatus
		}

		exists, err := tx.SerialExists(ctx, draftID, resolved.Serial)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateSerial
		}

		if draft.CustomerFrozen() {
			if serialCustomer != "" && serialCustomer != *draft.CustomerCode {
				return ErrCustomerMismatch
			}
		} else if serialCustomer != "" {
			var branchID *int64
			var branchName *string
			if resolved.BranchID != 0 {
				branchID = &resolved.BranchID
			}
			if resolved.BranchName != "" {
				branchName = &resolved.BranchName
			}
			if err := tx.SetDraftCustomer(ctx, draftID, serialCustomer, serialCustomerName, branchID, branchName); err != nil {
				return err
			}
		}

		line, err := tx.FindLine(ctx, draftID, resolved.ItemCode, resolved.WarehouseCode)
		switch {
		case err == nil:
			if err := tx.AddLineQuantity(ctx, line.ID, 1); err != nil {
				return err
			}
		case errors.Is(err, ErrNotFound):
			number, err := tx.NextLineNumber(ctx, draftID)
			if err != nil {
				return err
			}
			lineID, err := tx.InsertLine(ctx, InvoiceLine{
				DraftID:         draftID,
				LineNumber:      number,
				ItemCode:        resolved.ItemCode,
				ItemDescription: resolved.ItemName,
				Quantity:        1,
				WarehouseCode:   resolved.WarehouseCode,
				WarehouseName:   resolved.WarehouseName,
			})
			if err != nil {
				return err
			}
			line = &InvoiceLine{ID: lineID, LineNumber: number}
		default:
			return err
		}

		attachment := SerialAttachment{
			LineID:          line.ID,
			DraftID:         draftID,
			Serial:          resolved.Serial,
			ItemCode:        resolved.ItemCode,
			ItemDescription: resolved.ItemName,
			WarehouseCode:   resolved.WarehouseCode,
			Quantity:        1,
			ValidationState: validation,
		}
		if serialCustomer != "" {
			attachment.CustomerCode = &serialCustomer
		}
		if serialCustomerName != "" {
			attachment.CustomerName = &serialCustomerName
		}
		if resolved.BranchID != 0 {
			attachment.BranchID = &resolved.BranchID
		}
		if resolved.BranchName != "" {
			attachment.BranchName = &resolved.BranchName
		}
		serialID, err := tx.InsertSerial(ctx, attachment)
		if err != nil {
			return err
		}

		result = AddedSerial{
			SerialID:        serialID,
			LineID:          line.ID,
			LineNumber:      line.LineNumber,
			Serial:          resolved.Serial,
			ItemCode:        resolved.ItemCode,
			ItemDescription: resolved.ItemName,
			WarehouseCode:   resolved.WarehouseCode,
			WarehouseName:   resolved.WarehouseName,
			CustomerLocked:  draft.CustomerFrozen() || serialCustomer != "",
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("serial added",
		slog.Int64("draft_id", draftID),
		slog.String("serial", result.Serial),
		slog.String("source", string(source)))
	return &result, nil
}

// RemoveSerial detaches one serial. The owning line is deleted when its last
// serial goes; the draft's customer stays frozen regardless.
func (s *Service) RemoveSerial(ctx context.Context, actor Actor, draftID, serialID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, err := tx.GetDraftForUpdate(ctx, draftID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(draft) {
			return ErrAccessDenied
		}
		if !draft.Status.Mutable() {
			return ErrInvalidStatus
		}

		serial, err := tx.GetSerial(ctx, serialID)
		if err != nil {
			return err
		}
		if serial.DraftID != draftID {
			return ErrNotFound
		}
		if err := tx.DeleteSerial(ctx, serialID); err != nil {
			return err
		}

		remaining, err := tx.CountLineSerials(ctx, serial.LineID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return tx.DeleteLine(ctx, serial.LineID)
		}
		return tx.AddLineQuantity(ctx, serial.LineID, -serial.Quantity)
	})
}

// ClearAll removes every line and serial and unfreezes the customer,
// returning the draft to a blank slate. The number of cleared lines is
// reported.
func (s *Service) ClearAll(ctx context.Context, actor Actor, draftID int64) (int, error) {
	var cleared int
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, err := tx.GetDraftForUpdate(ctx, draftID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(draft) {
			return ErrAccessDenied
		}
		if !draft.Status.Mutable() {
			return ErrInvalidStatus
		}

		cleared, err = tx.DeleteDraftLines(ctx, draftID)
		if err != nil {
			return err
		}
		if cleared == 0 {
			return ErrEmptyDraft
		}
		return tx.ClearDraftCustomer(ctx, draftID)
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// SubmitForReview moves a draft into the QC queue.
func (s *Service) SubmitForReview(ctx context.Context, actor Actor, draftID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, err := tx.GetDraftForUpdate(ctx, draftID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(draft) {
			return ErrAccessDenied
		}
		if draft.Status != StatusDraft {
			return ErrInvalidStatus
		}

		count, err := tx.CountDraftLines(ctx, draftID)
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrEmptyDraft
		}
		if !draft.CustomerFrozen() {
			return ErrMissingCustomer
		}
		return tx.UpdateDraftStatus(ctx, draftID, StatusPendingQC)
	})
}

// Approve posts a QC-approved draft to the ERP. On success the draft
// becomes posted and records the ERP document identity; an ERP refusal
// marks it failed and retains the refusal verbatim.
func (s *Service) Approve(ctx context.Context, actor Actor, draftID int64) (*InvoiceDraft, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(draft) {
		return nil, ErrAccessDenied
	}
	if draft.Status != StatusPendingQC {
		return nil, ErrInvalidStatus
	}

	payload, err := BuildSubmission(draft, s.dueDateOffset)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}

	// The posting itself runs outside any transaction; the outcome is
	// recorded afterwards against a re-checked status so a concurrent
	// approval cannot double-post.
	posted, rawResponse, postErr := s.erp.SubmitInvoice(ctx, *payload)

	result := PostingResult{Status: StatusPosted}
	if postErr != nil {
		result.Status = StatusFailed
		result.Response = erpErrorText(postErr)
	} else {
		result.Response = string(rawResponse)
		result.DocEntry = &posted.DocEntry
		docNum := posted.DocNum
		result.DocNum = &docNum
		result.InvoiceNumber = &docNum
		result.TotalAmount = posted.DocTotal
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetDraftForUpdate(ctx, draftID)
		if err != nil {
			return err
		}
		if current.Status != StatusPendingQC {
			return ErrInvalidStatus
		}
		if err := tx.RecordSubmission(ctx, draftID, string(payloadJSON)); err != nil {
			return err
		}
		return tx.RecordPostingResult(ctx, draftID, result)
	})
	if err != nil {
		return nil, err
	}

	if postErr != nil {
		s.logger.Error("invoice posting failed",
			slog.Int64("draft_id", draftID), slog.Any("error", postErr))
		return nil, postErr
	}
	s.logger.Info("invoice posted",
		slog.Int64("draft_id", draftID),
		slog.Int64("doc_entry", posted.DocEntry),
		slog.String("doc_num", posted.DocNum))
	return s.store.GetDraft(ctx, draftID)
}

// Reject declines a pending draft, keeping the stated reason on it.
func (s *Service) Reject(ctx context.Context, actor Actor, draftID int64, reason string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, err := tx.GetDraftForUpdate(ctx, draftID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(draft) {
			return ErrAccessDenied
		}
		if draft.Status != StatusPendingQC {
			return ErrInvalidStatus
		}
		if err := tx.UpdateDraftStatus(ctx, draftID, StatusRejected); err != nil {
			return err
		}
		if reason != "" {
			return tx.SetDraftNotes(ctx, draftID, reason)
		}
		return nil
	})
}

// DeleteDraft removes an empty draft-status document.
func (s *Service) DeleteDraft(ctx context.Context, actor Actor, draftID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, err := tx.GetDraftForUpdate(ctx, draftID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(draft) {
			return ErrAccessDenied
		}
		if draft.Status != StatusDraft {
			return ErrInvalidStatus
		}
		count, err := tx.CountDraftLines(ctx, draftID)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDraftNotEmpty
		}
		return tx.DeleteDraft(ctx, draftID)
	})
}

// CleanupEmptyDrafts drops the actor's leftover empty drafts.
func (s *Service) CleanupEmptyDrafts(ctx context.Context, actor Actor) (int, error) {
	n, err := s.store.DeleteEmptyDrafts(ctx, actor.UserID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("empty drafts cleaned", slog.Int("count", n), slog.Int64("user_id", actor.UserID))
	}
	return n, nil
}

// CleanupAbandonedDrafts drops empty drafts older than the cutoff for all
// users. Invoked from the background worker.
func (s *Service) CleanupAbandonedDrafts(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.store.DeleteAbandonedDrafts(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("abandoned drafts cleaned", slog.Int("count", n))
	}
	return n, nil
}

func erpErrorText(err error) string {
	var remote *erp.RemoteError
	if errors.As(err, &remote) && remote.Message != "" {
		return remote.Message
	}
	if errors.Is(err, erp.ErrUnavailable) {
		return "ERP service unavailable"
	}
	return err.Error()
}
