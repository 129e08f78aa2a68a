// Package broker abstracts the order routing side of a broker account.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/shopspring/decimal"
)

// Adapter routes orders to a broker. Calls are made outside any ledger
// transaction and may block on the network.
type Adapter interface {
	SubmitOrder(ctx context.Context, session *models.TradingSession, order *models.Order) (*Ack, error)
	CancelOrder(ctx context.Context, session *models.TradingSession, order *models.Order) error
}

// Ack is the broker's acceptance of an order.
type Ack struct {
	BrokerOrderID string
	Response      map[string]interface{}
	// Executions already known at acceptance time, e.g. paper fills.
	Executions []Execution
}

// Execution is one fill reported by the broker.
type Execution struct {
	FillID    string
	Quantity  int64
	Price     decimal.Decimal
	Timestamp time.Time
}

// Rejection is a definitive refusal by the broker. Any other adapter error is
// treated as the broker being unreachable.
type Rejection struct {
	Code   string
	Reason string
}

func (r *Rejection) Error() string {
	if r.Code == "" {
		return fmt.Sprintf("broker rejected order: %s", r.Reason)
	}
	return fmt.Sprintf("broker rejected order: %s (%s)", r.Reason, r.Code)
}

// AsRejection returns the Rejection in err's chain, if any.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Registry picks the adapter for a session by broker type. Paper sessions
// always use the paper adapter.
type Registry struct {
	paper    Adapter
	adapters map[string]Adapter
}

func NewRegistry(paper Adapter) *Registry {
	return &Registry{paper: paper, adapters: make(map[string]Adapter)}
}

// Register adds the adapter for a broker type such as KITE or UPSTOX.
func (r *Registry) Register(brokerType string, a Adapter) {
	r.adapters[brokerType] = a
}

// For returns the adapter serving session.
func (r *Registry) For(session *models.TradingSession) (Adapter, error) {
	if session.IsPaperTrading || session.BrokerType == TypePaper {
		return r.paper, nil
	}
	a, ok := r.adapters[session.BrokerType]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for broker type %s", session.BrokerType)
	}
	return a, nil
}

// Marker is implemented by adapters that price orders off the last mark.
type Marker interface {
	SetMark(instrumentToken string, price decimal.Decimal)
}

// Mark forwards a price mark to every adapter that uses marks.
func (r *Registry) Mark(instrumentToken string, price decimal.Decimal) {
	if m, ok := r.paper.(Marker); ok {
		m.SetMark(instrumentToken, price)
	}
	for _, a := range r.adapters {
		if m, ok := a.(Marker); ok {
			m.SetMark(instrumentToken, price)
		}
	}
}
