package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/internal/domain"
	orderrepo "storefront/internal/repository/order"
)

type ReconcileInput struct {
	OrderNumber string
	ResultCode  string
	Source      Source
	Reference   string
	// Amount is the amount reported by the gateway, when the channel carries
	// one. It must equal the order total for a success to be honoured.
	Amount string
}

type ReconcileResult struct {
	Order   *domain.Order
	Outcome Outcome
	// Changed is true only for the call that actually moved the status.
	Changed bool
}

// Reconcile applies a payment result to an order. It is safe to call any
// number of times, from both channels, concurrently: the status move is a
// guarded update and only its winner adjusts inventory.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (*ReconcileResult, error) {
	if !in.Source.valid() {
		return nil, fmt.Errorf("%w: unknown source %q", domain.ErrValidation, in.Source)
	}
	orderNumber := strings.TrimSpace(in.OrderNumber)
	log := s.logger.With(
		zap.String("order_number", orderNumber),
		zap.String("source", string(in.Source)),
		zap.String("result_code", in.ResultCode),
	)

	outcome := outcomeFor(in.Source, in.ResultCode)
	if outcome == OutcomeUnknown {
		log.Warn("unrecognised result code, order left unchanged")
		s.metrics.RecordReconciliation(string(in.Source), "unknown_code")
		return nil, fmt.Errorf("%w: %q on %s", ErrUnknownResultCode, in.ResultCode, in.Source)
	}

	order, err := s.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("reconcile for unknown order")
			s.metrics.RecordReconciliation(string(in.Source), "not_found")
		}
		return nil, err
	}
	res := &ReconcileResult{Order: order, Outcome: outcome}

	if outcome == OutcomePaid && in.Amount != "" && !amountMatches(in.Amount, order.TotalAmount) {
		log.Error("reported amount differs from order total", zap.String("amount", in.Amount), zap.Int64("total_amount", order.TotalAmount))
		s.metrics.RecordReconciliation(string(in.Source), "amount_mismatch")
		return res, ErrAmountMismatch
	}

	paymentStatus, orderStatus, ok := outcome.target()
	if !ok {
		log.Debug("pending result, nothing to apply")
		s.metrics.RecordReconciliation(string(in.Source), "pending")
		return res, nil
	}
	if order.PaymentStatus == paymentStatus {
		log.Info("payment status already applied", zap.String("payment_status", string(paymentStatus)))
		s.metrics.RecordReconciliation(string(in.Source), "noop")
		return res, nil
	}
	if !order.PaymentStatus.CanTransitionTo(paymentStatus) {
		log.Info("payment transition not allowed, ignored",
			zap.String("from", string(order.PaymentStatus)),
			zap.String("to", string(paymentStatus)),
		)
		s.metrics.RecordReconciliation(string(in.Source), "noop")
		return res, nil
	}

	reference := strings.TrimSpace(in.Reference)
	if outcome == OutcomePaid && in.Source == SourceReturn {
		confirmed, ref := s.confirmWithGateway(ctx, log, order)
		if !confirmed {
			res.Outcome = OutcomePending
			s.metrics.RecordReconciliation(string(in.Source), "unconfirmed")
			return res, nil
		}
		if ref != "" {
			reference = ref
		}
	}

	// A status move that commits must be followed by its inventory
	// adjustment; redeliveries after that see the order as already applied.
	ctx, cancel := s.detach(ctx)
	defer cancel()

	updated, changed, err := s.orders.TransitionStatus(ctx, order.ID, orderrepo.StatusTransition{
		PaymentStatus:    paymentStatus,
		OrderStatus:      orderStatus,
		PaymentReference: reference,
		AllowedFrom:      domain.PaymentSourcesFor(paymentStatus),
	})
	if err != nil {
		s.metrics.RecordReconciliation(string(in.Source), "error")
		return res, fmt.Errorf("transition %s: %w", orderNumber, err)
	}
	res.Order = updated
	res.Changed = changed
	if !changed {
		log.Info("concurrent reconciliation already moved the order", zap.String("payment_status", string(updated.PaymentStatus)))
		s.metrics.RecordReconciliation(string(in.Source), "noop")
		return res, nil
	}

	log.Info("payment status changed",
		zap.String("from", string(order.PaymentStatus)),
		zap.String("to", string(updated.PaymentStatus)),
		zap.String("order_status", string(updated.OrderStatus)),
	)
	s.metrics.RecordReconciliation(string(in.Source), "applied")

	if paymentStatus == domain.PaymentStatusPaid {
		s.adjustInventory(ctx, log, updated)
	}
	return res, nil
}

// confirmWithGateway asks the gateway whether an unsigned success redirect is
// real. Any failure leaves the order for the callback to settle.
func (s *Service) confirmWithGateway(ctx context.Context, log *zap.Logger, order *domain.Order) (bool, string) {
	status, err := s.gateway.CheckTransactionStatus(ctx, order.OrderNumber)
	if err != nil {
		log.Warn("could not confirm return with gateway", zap.Error(err))
		return false, ""
	}
	if !status.Paid() {
		log.Info("gateway does not report the order as paid", zap.String("gateway_status", status.StatusCode))
		return false, ""
	}
	if status.Amount != "" && !amountMatches(status.Amount, order.TotalAmount) {
		log.Error("gateway status amount differs from order total", zap.String("amount", status.Amount), zap.Int64("total_amount", order.TotalAmount))
		return false, ""
	}
	return true, status.Reference
}

func (s *Service) adjustInventory(ctx context.Context, log *zap.Logger, order *domain.Order) {
	for _, item := range order.Items {
		if err := s.inventory.DecreaseStock(ctx, item.ProductID, item.VariantID, item.Quantity); err != nil {
			log.Error("stock decrement failed after payment",
				zap.String("product_id", item.ProductID),
				zap.String("variant_id", item.VariantID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err),
			)
		}
	}
}

func amountMatches(reported string, total int64) bool {
	d, err := decimal.NewFromString(strings.TrimSpace(reported))
	if err != nil {
		return false
	}
	return d.Equal(decimal.NewFromInt(total))
}
