package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"freshchain/internal/domain"
)

const offerColumns = `parent_id,parent_batch_number,producer_id,producer,product_type,unit,base_price,pricing_currency,total_quantity,available_quantity,status,metadata,created_at,published_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (domain.ParentOffer, error) {
	var (
		o                       domain.ParentOffer
		price, total, available string
		metadata, publishedAt   sql.NullString
	)
	err := row.Scan(&o.ParentID, &o.ParentBatchNumber, &o.ProducerID, &o.Producer, &o.ProductType, &o.Unit,
		&price, &o.PricingCurrency, &total, &available, &o.Status, &metadata, &o.CreatedAt, &publishedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if o.BasePrice, err = parseDec("base_price", price); err != nil {
		return o, err
	}
	if o.TotalQuantity, err = parseDec("total_quantity", total); err != nil {
		return o, err
	}
	if o.AvailableQuantity, err = parseDec("available_quantity", available); err != nil {
		return o, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &o.Metadata); err != nil {
			return o, fmt.Errorf("offer %s metadata: %w", o.ParentID, err)
		}
	}
	o.PublishedAt = ptr(publishedAt)
	return o, nil
}

func (r Repo) InsertOfferTx(ctx context.Context, tx *sql.Tx, o domain.ParentOffer) error {
	var metadata any
	if len(o.Metadata) > 0 {
		data, err := json.Marshal(o.Metadata)
		if err != nil {
			return fmt.Errorf("marshal offer metadata: %w", err)
		}
		metadata = string(data)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO parent_offers(`+offerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ParentID, o.ParentBatchNumber, o.ProducerID, o.Producer, o.ProductType, o.Unit,
		dec(o.BasePrice), o.PricingCurrency, dec(o.TotalQuantity), dec(o.AvailableQuantity),
		string(o.Status), metadata, o.CreatedAt, nullablePtr(o.PublishedAt))
	return err
}

func (r Repo) GetOffer(ctx context.Context, id string) (domain.ParentOffer, error) {
	return r.GetOfferTx(ctx, nil, id)
}

func (r Repo) GetOfferTx(ctx context.Context, tx *sql.Tx, id string) (domain.ParentOffer, error) {
	return scanOffer(r.q(tx).QueryRowContext(ctx, `SELECT `+offerColumns+` FROM parent_offers WHERE parent_id=?`, id))
}

type OfferFilters struct {
	Status     string
	ProducerID string
}

func (r Repo) ListOffers(ctx context.Context, f OfferFilters) ([]domain.ParentOffer, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ProducerID != "" {
		clauses = append(clauses, "producer_id=?")
		args = append(args, f.ProducerID)
	}
	query := `SELECT ` + offerColumns + ` FROM parent_offers`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, parent_id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ParentOffer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// PublishOfferTx moves a draft offer to published.
func (r Repo) PublishOfferTx(ctx context.Context, tx *sql.Tx, id, publishedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE parent_offers SET status=?, published_at=? WHERE parent_id=?`,
		string(domain.OfferPublished), publishedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetAvailableQuantityTx(ctx context.Context, tx *sql.Tx, id string, available float64) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE parent_offers SET available_quantity=? WHERE parent_id=?`, dec(available), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// NextBatchNumberTx returns the next sequential parent batch number, PB-00001 first.
func (r Repo) NextBatchNumberTx(ctx context.Context, tx *sql.Tx) (string, error) {
	var n int
	if err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM parent_offers`).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("PB-%05d", n+1), nil
}
