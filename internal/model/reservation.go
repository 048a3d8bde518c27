package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BookingWindow は1件の予約が部屋を占有する時間です
const BookingWindow = 2 * time.Hour

// CancelReason はキャンセル理由です
type CancelReason string

const (
	CancelReasonCustomerRequest CancelReason = "customer_request"
	CancelReasonAdminCancel     CancelReason = "admin_cancel"
	CancelReasonNoShow          CancelReason = "no_show"
)

// Valid は定義済みのキャンセル理由かを判定します
func (r CancelReason) Valid() bool {
	switch r {
	case CancelReasonCustomerRequest, CancelReasonAdminCancel, CancelReasonNoShow:
		return true
	}
	return false
}

// RefundStatus は返金処理の状態です
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Reservation は葬儀予約のドメインモデルです
// 部屋・パッケージはIDのみ保持し、必要な時に明示的に読み込みます
type Reservation struct {
	ID              int64               `db:"id" json:"id"`
	CustomerID      int64               `db:"customer_id" json:"customer_id"`
	PetID           int64               `db:"pet_id" json:"pet_id"`
	PackageID       *int64              `db:"package_id" json:"package_id,omitempty"`
	RoomID          *int64              `db:"room_id" json:"room_id,omitempty"`
	ScheduledAt     *time.Time          `db:"scheduled_at" json:"scheduled_at,omitempty"`
	Status          ReservationStatus   `db:"status" json:"status"`
	AssignedStaffID *int64              `db:"assigned_staff_id" json:"assigned_staff_id,omitempty"`
	IsEmergency     bool                `db:"is_emergency" json:"is_emergency"`
	VisitRoute      string              `db:"visit_route" json:"visit_route"`
	CustomRequests  string              `db:"custom_requests" json:"custom_requests"`
	Memo            string              `db:"memo" json:"memo"`
	CancelledAt     *time.Time          `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason    *CancelReason       `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelNotes     string              `db:"cancel_notes" json:"cancel_notes"`
	PenaltyAmount   decimal.NullDecimal `db:"penalty_amount" json:"penalty_amount"`
	RefundAmount    decimal.NullDecimal `db:"refund_amount" json:"refund_amount"`
	RefundStatus    RefundStatus        `db:"refund_status" json:"refund_status"`
	CreatedBy       *int64              `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// CancelInfo はキャンセル時に任意で渡される情報です
type CancelInfo struct {
	Reason *CancelReason
	Notes  string
}

// Validate はキャンセル情報の妥当性を検証します
func (c *CancelInfo) Validate() error {
	if c == nil || c.Reason == nil {
		return nil
	}
	if !c.Reason.Valid() {
		return &ValidationError{Field: "cancel_reason", Message: fmt.Sprintf("unknown reason %q", *c.Reason)}
	}
	return nil
}

// Window は予約が部屋を占有する半開区間 [scheduled_at, scheduled_at+2h) を返します
// 予約日時が未設定の場合はokがfalseになります
func (r *Reservation) Window() (start, end time.Time, ok bool) {
	if r.ScheduledAt == nil {
		return time.Time{}, time.Time{}, false
	}
	return *r.ScheduledAt, r.ScheduledAt.Add(BookingWindow), true
}

// HoursUntil は予約日時までの残り時間(時間単位)を返します
func (r *Reservation) HoursUntil(now time.Time) (float64, bool) {
	if r.ScheduledAt == nil {
		return 0, false
	}
	return r.ScheduledAt.Sub(now).Hours(), true
}

// CanCancel はペナルティ計算の対象となるキャンセルかを判定します
// pendingは常に可、confirmedは予約の24時間前まで可、それ以外は不可です
func (r *Reservation) CanCancel(now time.Time) bool {
	switch r.Status {
	case StatusPending:
		return true
	case StatusConfirmed:
		hours, ok := r.HoursUntil(now)
		return ok && hours >= 24
	default:
		return false
	}
}

// PenaltyRate は残り時間に応じたキャンセル料率(%)を返します
func PenaltyRate(hoursUntil float64) int64 {
	switch {
	case hoursUntil >= 168:
		return 0
	case hoursUntil >= 72:
		return 30
	case hoursUntil >= 24:
		return 50
	default:
		return 100
	}
}

// CalculatePenaltyAmount はパッケージ基本料金に対するキャンセル料を計算します
// 副作用はなく、確定前の見積もりにも使用できます
func (r *Reservation) CalculatePenaltyAmount(now time.Time, basePrice *decimal.Decimal) decimal.Decimal {
	if r.PackageID == nil || basePrice == nil {
		return decimal.Zero
	}
	hours, ok := r.HoursUntil(now)
	if !ok {
		return decimal.Zero
	}
	return basePrice.Mul(decimal.NewFromInt(PenaltyRate(hours))).Div(decimal.NewFromInt(100)).Round(2)
}
