package reservation

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
)

// PenaltyQuote はキャンセル確定前のキャンセル料の見積もりです
type PenaltyQuote struct {
	ReservationID int64           `json:"reservation_id"`
	CanCancel     bool            `json:"can_cancel"`
	HoursUntil    float64         `json:"hours_until"`
	RatePercent   int64           `json:"rate_percent"`
	BasePrice     decimal.Decimal `json:"base_price"`
	Penalty       decimal.Decimal `json:"penalty"`
	Refund        decimal.Decimal `json:"refund"`
}

// QuotePenalty は現在時刻でキャンセルした場合のキャンセル料を計算します。状態は変更しません
func (s *Service) QuotePenalty(ctx context.Context, id int64) (*PenaltyQuote, error) {
	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	quote := &PenaltyQuote{
		ReservationID: res.ID,
		CanCancel:     res.CanCancel(now),
	}

	hours, scheduled := res.HoursUntil(now)
	if scheduled {
		quote.HoursUntil = hours
		quote.RatePercent = model.PenaltyRate(hours)
	}

	if res.PackageID == nil {
		return quote, nil
	}
	pkg, err := s.store.GetPackage(ctx, *res.PackageID)
	if err != nil {
		return nil, wrapSystem("get package", err)
	}

	quote.BasePrice = pkg.BasePrice
	quote.Penalty = res.CalculatePenaltyAmount(now, &pkg.BasePrice)
	quote.Refund = pkg.BasePrice.Sub(quote.Penalty)
	return quote, nil
}
