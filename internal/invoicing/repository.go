package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for invoice drafts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside a transaction. Every
// mutating service operation runs against exactly one transaction so a
// failure rolls the whole step back.
type TxRepository interface {
	CreateDraft(ctx context.Context, draft InvoiceDraft) (int64, error)
	GetDraftForUpdate(ctx context.Context, id int64) (*InvoiceDraft, error)

	SerialExists(ctx context.Context, draftID int64, serial string) (bool, error)
	FindLine(ctx context.Context, draftID int64, itemCode, warehouseCode string) (*InvoiceLine, error)
	NextLineNumber(ctx context.Context, draftID int64) (int, error)
	InsertLine(ctx context.Context, line InvoiceLine) (int64, error)
	AddLineQuantity(ctx context.Context, lineID int64, delta float64) error
	InsertSerial(ctx context.Context, serial SerialAttachment) (int64, error)

	GetSerial(ctx context.Context, serialID int64) (*SerialAttachment, error)
	DeleteSerial(ctx context.Context, serialID int64) error
	CountLineSerials(ctx context.Context, lineID int64) (int, error)
	DeleteLine(ctx context.Context, lineID int64) error

	CountDraftLines(ctx context.Context, draftID int64) (int, error)
	DeleteDraftLines(ctx context.Context, draftID int64) (int, error)

	SetDraftCustomer(ctx context.Context, draftID int64, code, name string, branchID *int64, branchName *string) error
	ClearDraftCustomer(ctx context.Context, draftID int64) error
	UpdateDraftStatus(ctx context.Context, draftID int64, status DraftStatus) error
	SetDraftNotes(ctx context.Context, draftID int64, notes string) error
	RecordSubmission(ctx context.Context, draftID int64, payload string) error
	RecordPostingResult(ctx context.Context, draftID int64, result PostingResult) error
	DeleteDraft(ctx context.Context, draftID int64) error
}

// PostingResult captures the outcome of an ERP posting attempt.
type PostingResult struct {
	Status        DraftStatus
	Response      string
	DocEntry      *int64
	DocNum        *string
	InvoiceNumber *string
	TotalAmount   float64
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const draftColumns = `id, invoice_number, customer_code, customer_name, branch_id, branch_name,
       user_id, status, doc_date, due_date, total_amount, erp_doc_entry, erp_doc_num,
       submission_payload, erp_response, notes, created_at, updated_at`

func scanDraft(row pgx.Row) (*InvoiceDraft, error) {
	var d InvoiceDraft
	err := row.Scan(
		&d.ID, &d.InvoiceNumber, &d.CustomerCode, &d.CustomerName, &d.BranchID, &d.BranchName,
		&d.UserID, &d.Status, &d.DocDate, &d.DueDate, &d.TotalAmount, &d.ErpDocEntry, &d.ErpDocNum,
		&d.Payload, &d.ErpResponse, &d.Notes, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// GetDraft retrieves a draft header with its lines and serial attachments.
func (r *Repository) GetDraft(ctx context.Context, id int64) (*InvoiceDraft, error) {
	draft, err := scanDraft(r.pool.QueryRow(ctx, `SELECT `+draftColumns+` FROM invoice_drafts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	lines, err := r.getDraftLines(ctx, id)
	if err != nil {
		return nil, err
	}
	draft.Lines = lines
	return draft, nil
}

func (r *Repository) getDraftLines(ctx context.Context, draftID int64) ([]InvoiceLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, draft_id, line_number, item_code, item_description, quantity,
		       warehouse_code, warehouse_name, tax_code, created_at, updated_at
		FROM invoice_lines
		WHERE draft_id = $1
		ORDER BY line_number`, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []InvoiceLine
	lineIndex := make(map[int64]int)
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.DraftID, &l.LineNumber, &l.ItemCode, &l.ItemDescription, &l.Quantity,
			&l.WarehouseCode, &l.WarehouseName, &l.TaxCode, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lineIndex[l.ID] = len(lines)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	serialRows, err := r.pool.Query(ctx, `
		SELECT id, line_id, draft_id, serial_number, item_code, item_description,
		       warehouse_code, customer_code, customer_name, branch_id, branch_name,
		       quantity, validation_status, validation_error, created_at
		FROM invoice_serial_numbers
		WHERE draft_id = $1
		ORDER BY id`, draftID)
	if err != nil {
		return nil, err
	}
	defer serialRows.Close()

	for serialRows.Next() {
		var s SerialAttachment
		if err := serialRows.Scan(&s.ID, &s.LineID, &s.DraftID, &s.Serial, &s.ItemCode, &s.ItemDescription,
			&s.WarehouseCode, &s.CustomerCode, &s.CustomerName, &s.BranchID, &s.BranchName,
			&s.Quantity, &s.ValidationState, &s.ValidationError, &s.CreatedAt); err != nil {
			return nil, err
		}
		if idx, ok := lineIndex[s.LineID]; ok {
			lines[idx].Serials = append(lines[idx].Serials, s)
		}
	}
	return lines, serialRows.Err()
}

// ListDrafts returns a filtered, paginated draft listing plus the total count.
func (r *Repository) ListDrafts(ctx context.Context, req ListDraftsRequest) ([]InvoiceDraft, int, error) {
	conditions := []string{"user_id = $1"}
	args := []any{req.UserID}

	if req.Status != nil {
		args = append(args, *req.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if req.Customer != nil && *req.Customer != "" {
		args = append(args, "%"+*req.Customer+"%")
		conditions = append(conditions, fmt.Sprintf("(customer_code ILIKE $%d OR customer_name ILIKE $%d)", len(args), len(args)))
	}
	if req.Search != nil && *req.Search != "" {
		args = append(args, "%"+*req.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(invoice_number ILIKE $%d OR customer_code ILIKE $%d OR customer_name ILIKE $%d)", len(args), len(args), len(args)))
	}
	if req.DateFrom != nil {
		args = append(args, *req.DateFrom)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if req.DateTo != nil {
		args = append(args, req.DateTo.AddDate(0, 0, 1))
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoice_drafts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, req.Offset)
	query := fmt.Sprintf(`SELECT %s FROM invoice_drafts WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		draftColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var drafts []InvoiceDraft
	for rows.Next() {
		var d InvoiceDraft
		if err := rows.Scan(
			&d.ID, &d.InvoiceNumber, &d.CustomerCode, &d.CustomerName, &d.BranchID, &d.BranchName,
			&d.UserID, &d.Status, &d.DocDate, &d.DueDate, &d.TotalAmount, &d.ErpDocEntry, &d.ErpDocNum,
			&d.Payload, &d.ErpResponse, &d.Notes, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		drafts = append(drafts, d)
	}
	return drafts, total, rows.Err()
}

// DeleteEmptyDrafts removes the user's draft-status documents without lines.
func (r *Repository) DeleteEmptyDrafts(ctx context.Context, userID int64) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM invoice_drafts d
		WHERE d.user_id = $1
		  AND d.status = $2
		  AND NOT EXISTS (SELECT 1 FROM invoice_lines l WHERE l.draft_id = d.id)`,
		userID, StatusDraft)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DeleteAbandonedDrafts removes empty draft-status documents older than the
// cutoff across all users. Used by the background cleanup job.
func (r *Repository) DeleteAbandonedDrafts(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM invoice_drafts d
		WHERE d.status = $1
		  AND d.created_at < $2
		  AND NOT EXISTS (SELECT 1 FROM invoice_lines l WHERE l.draft_id = d.id)`,
		StatusDraft, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (t *txRepo) CreateDraft(ctx context.Context, draft InvoiceDraft) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoice_drafts (user_id, status, doc_date, branch_id, branch_name, total_amount)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING id`,
		draft.UserID, draft.Status, draft.DocDate, draft.BranchID, draft.BranchName,
	).Scan(&id)
	return id, err
}

func (t *txRepo) GetDraftForUpdate(ctx context.Context, id int64) (*InvoiceDraft, error) {
	return scanDraft(t.tx.QueryRow(ctx, `SELECT `+draftColumns+` FROM invoice_drafts WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) SerialExists(ctx context.Context, draftID int64, serial string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoice_serial_numbers
			WHERE draft_id = $1 AND serial_number = $2
		)`, draftID, serial).Scan(&exists)
	return exists, err
}

func (t *txRepo) FindLine(ctx context.Context, draftID int64, itemCode, warehouseCode string) (*InvoiceLine, error) {
	var l InvoiceLine
	err := t.tx.QueryRow(ctx, `
		SELECT id, draft_id, line_number, item_code, item_description, quantity,
		       warehouse_code, warehouse_name, tax_code, created_at, updated_at
		FROM invoice_lines
		WHERE draft_id = $1 AND item_code = $2 AND warehouse_code = $3`,
		draftID, itemCode, warehouseCode,
	).Scan(&l.ID, &l.DraftID, &l.LineNumber, &l.ItemCode, &l.ItemDescription, &l.Quantity,
		&l.WarehouseCode, &l.WarehouseName, &l.TaxCode, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (t *txRepo) NextLineNumber(ctx context.Context, draftID int64) (int, error) {
	var next int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(line_number), 0) + 1 FROM invoice_lines WHERE draft_id = $1`, draftID).Scan(&next)
	return next, err
}

func (t *txRepo) InsertLine(ctx context.Context, line InvoiceLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoice_lines (draft_id, line_number, item_code, item_description, quantity,
		                           warehouse_code, warehouse_name, tax_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		line.DraftID, line.LineNumber, line.ItemCode, line.ItemDescription, line.Quantity,
		line.WarehouseCode, line.WarehouseName, line.TaxCode,
	).Scan(&id)
	return id, err
}

func (t *txRepo) AddLineQuantity(ctx context.Context, lineID int64, delta float64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE invoice_lines SET quantity = quantity + $2, updated_at = now() WHERE id = $1`, lineID, delta)
	return err
}

func (t *txRepo) InsertSerial(ctx context.Context, serial SerialAttachment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoice_serial_numbers (line_id, draft_id, serial_number, item_code, item_description,
		                                    warehouse_code, customer_code, customer_name, branch_id, branch_name,
		                                    quantity, validation_status, validation_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		serial.LineID, serial.DraftID, serial.Serial, serial.ItemCode, serial.ItemDescription,
		serial.WarehouseCode, serial.CustomerCode, serial.CustomerName, serial.BranchID, serial.BranchName,
		serial.Quantity, serial.ValidationState, serial.ValidationError,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateSerial
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) GetSerial(ctx context.Context, serialID int64) (*SerialAttachment, error) {
	var s SerialAttachment
	err := t.tx.QueryRow(ctx, `
		SELECT id, line_id, draft_id, serial_number, item_code, item_description,
		       warehouse_code, customer_code, customer_name, branch_id, branch_name,
		       quantity, validation_status, validation_error, created_at
		FROM invoice_serial_numbers
		WHERE id = $1`, serialID,
	).Scan(&s.ID, &s.LineID, &s.DraftID, &s.Serial, &s.ItemCode, &s.ItemDescription,
		&s.WarehouseCode, &s.CustomerCode, &s.CustomerName, &s.BranchID, &s.BranchName,
		&s.Quantity, &s.ValidationState, &s.ValidationError, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (t *txRepo) DeleteSerial(ctx context.Context, serialID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM invoice_serial_numbers WHERE id = $1`, serialID)
	return err
}

func (t *txRepo) CountLineSerials(ctx context.Context, lineID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM invoice_serial_numbers WHERE line_id = $1`, lineID).Scan(&count)
	return count, err
}

func (t *txRepo) DeleteLine(ctx context.Context, lineID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE id = $1`, lineID)
	return err
}

func (t *txRepo) CountDraftLines(ctx context.Context, draftID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM invoice_lines WHERE draft_id = $1`, draftID).Scan(&count)
	return count, err
}

func (t *txRepo) DeleteDraftLines(ctx context.Context, draftID int64) (int, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM invoice_serial_numbers WHERE draft_id = $1`, draftID); err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE draft_id = $1`, draftID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *txRepo) SetDraftCustomer(ctx context.Context, draftID int64, code, name string, branchID *int64, branchName *string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE invoice_drafts
		SET customer_code = $2, customer_name = $3, branch_id = $4, branch_name = $5, updated_at = now()
		WHERE id = $1`,
		draftID, code, name, branchID, branchName)
	return err
}

func (t *txRepo) ClearDraftCustomer(ctx context.Context, draftID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE invoice_drafts
		SET customer_code = NULL, customer_name = NULL, branch_id = NULL, branch_name = NULL, updated_at = now()
		WHERE id = $1`, draftID)
	return err
}

func (t *txRepo) UpdateDraftStatus(ctx context.Context, draftID int64, status DraftStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoice_drafts SET status = $2, updated_at = now() WHERE id = $1`, draftID, status)
	return err
}

func (t *txRepo) SetDraftNotes(ctx context.Context, draftID int64, notes string) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoice_drafts SET notes = $2, updated_at = now() WHERE id = $1`, draftID, notes)
	return err
}

func (t *txRepo) RecordSubmission(ctx context.Context, draftID int64, payload string) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoice_drafts SET submission_payload = $2, updated_at = now() WHERE id = $1`, draftID, payload)
	return err
}

func (t *txRepo) RecordPostingResult(ctx context.Context, draftID int64, result PostingResult) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE invoice_drafts
		SET status = $2, erp_response = $3, erp_doc_entry = $4, erp_doc_num = $5,
		    invoice_number = $6, total_amount = $7, updated_at = now()
		WHERE id = $1`,
		draftID, result.Status, result.Response, result.DocEntry, result.DocNum,
		result.InvoiceNumber, result.TotalAmount)
	return err
}

func (t *txRepo) DeleteDraft(ctx context.Context, draftID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM invoice_drafts WHERE id = $1`, draftID)
	return err
}
