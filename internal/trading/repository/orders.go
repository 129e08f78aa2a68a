package repository

import (
	"context"
	"time"

	"github.com/Aidin1998/pincex_fno/common/dbutil"
	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
)

// OrderFilter narrows ListOrders. Status accepts the derived PARTIALLY_FILLED.
type OrderFilter struct {
	Status          string
	InstrumentToken string
	Side            string
	From            time.Time
	To              time.Time
	Limit           int
	Offset          int
}

// CreateOrder inserts a new order. A duplicate client order id is errors.Conflict.
func (t *Tx) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Version == 0 {
		order.Version = 1
	}
	if err := t.db.WithContext(ctx).Create(order).Error; err != nil {
		return dbutil.WrapError(err)
	}
	return nil
}

// GetOrder loads an order by id.
func (t *Tx) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := dbutil.FindOne[models.Order](t.db.WithContext(ctx).Where("id = ?", id))
	if err != nil {
		return nil, orderNotFound(err, id.String())
	}
	return order, nil
}

// LockOrder loads an order for update.
func (t *Tx) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := dbutil.FindOne[models.Order](t.forUpdate(ctx).Where("id = ?", id))
	if err != nil {
		return nil, orderNotFound(err, id.String())
	}
	return order, nil
}

// GetOrderByBrokerID resolves a broker order id to its order.
func (t *Tx) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (*models.Order, error) {
	order, err := dbutil.FindOne[models.Order](t.db.WithContext(ctx).Where("broker_order_id = ?", brokerOrderID))
	if err != nil {
		return nil, orderNotFound(err, brokerOrderID)
	}
	return order, nil
}

// UpdateOrder writes every column of order if its version is unchanged since it
// was read, and bumps the version. A concurrent writer yields a retriable
// errors.Storage.
func (t *Tx) UpdateOrder(ctx context.Context, order *models.Order) error {
	prev := order.Version
	order.Version = prev + 1
	order.UpdatedAt = now()

	res := t.db.WithContext(ctx).Model(order).
		Where("version = ?", prev).
		Select("*").Omit("CreatedAt").
		Updates(order)
	if res.Error != nil {
		order.Version = prev
		return dbutil.WrapError(res.Error)
	}
	if res.RowsAffected == 0 {
		order.Version = prev
		return errors.Storage.Explain("order %s changed concurrently (version %d)", order.ID, prev)
	}
	return nil
}

// ListOrders returns a session's orders, newest first.
func (t *Tx) ListOrders(ctx context.Context, sessionID uuid.UUID, f OrderFilter) ([]models.Order, error) {
	q := t.db.WithContext(ctx).Where("trading_session_id = ?", sessionID)

	switch f.Status {
	case "":
	case model.OrderStatusPartiallyFilled:
		q = q.Where("status = ? AND filled_quantity > 0 AND filled_quantity < quantity", model.OrderStatusOpen)
	case model.OrderStatusOpen:
		q = q.Where("status = ? AND filled_quantity = 0", model.OrderStatusOpen)
	default:
		q = q.Where("status = ?", f.Status)
	}
	if f.InstrumentToken != "" {
		q = q.Where("instrument_token = ?", f.InstrumentToken)
	}
	if f.Side != "" {
		q = q.Where("order_type = ?", f.Side)
	}
	if !f.From.IsZero() {
		q = q.Where("order_timestamp >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("order_timestamp < ?", f.To.UTC())
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	var orders []models.Order
	if err := q.Order("order_timestamp DESC, id").Limit(f.Limit).Offset(f.Offset).Find(&orders).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	return orders, nil
}

// CountOrders returns active (PENDING/OPEN) and total order counts.
func (t *Tx) CountOrders(ctx context.Context) (active, total int64, err error) {
	db := t.db.WithContext(ctx).Model(&models.Order{})
	if err = db.Count(&total).Error; err != nil {
		return 0, 0, dbutil.WrapError(err)
	}
	if err = t.db.WithContext(ctx).Model(&models.Order{}).
		Where("status IN ?", []string{model.OrderStatusPending, model.OrderStatusOpen}).
		Count(&active).Error; err != nil {
		return 0, 0, dbutil.WrapError(err)
	}
	return active, total, nil
}

// AppendFill inserts an immutable fill row.
func (t *Tx) AppendFill(ctx context.Context, fill *models.OrderFill) error {
	if fill.ID == uuid.Nil {
		fill.ID = uuid.New()
	}
	if err := t.db.WithContext(ctx).Create(fill).Error; err != nil {
		return dbutil.WrapError(err)
	}
	return nil
}

// FillExists reports whether a broker fill id was already applied to the order.
func (t *Tx) FillExists(ctx context.Context, orderID uuid.UUID, brokerFillID string) (bool, error) {
	var count int64
	if err := t.db.WithContext(ctx).Model(&models.OrderFill{}).
		Where("order_id = ? AND broker_fill_id = ?", orderID, brokerFillID).
		Count(&count).Error; err != nil {
		return false, dbutil.WrapError(err)
	}
	return count > 0, nil
}

// ListFills returns an order's fills in arrival order.
func (t *Tx) ListFills(ctx context.Context, orderID uuid.UUID) ([]models.OrderFill, error) {
	var fills []models.OrderFill
	if err := t.db.WithContext(ctx).Where("order_id = ?", orderID).Order("sequence").Find(&fills).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	return fills, nil
}

func orderNotFound(err error, ref string) error {
	if errors.Is(err, errors.NotFound) {
		return errors.NotFound.Explain("order %s not found", ref)
	}
	return err
}
