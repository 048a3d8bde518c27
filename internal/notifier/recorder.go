package notifier

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"go.uber.org/zap"
)

// Recorder はイベントを顧客向けの通知レコードとして保存します
type Recorder struct {
	notificationRepo repository.NotificationRepository
	petRepo          repository.PetRepository
	loc              *time.Location
	logger           *zap.Logger
}

// NewRecorder は新しいRecorderを作成します
func NewRecorder(notificationRepo repository.NotificationRepository, petRepo repository.PetRepository, loc *time.Location, logger *zap.Logger) *Recorder {
	return &Recorder{
		notificationRepo: notificationRepo,
		petRepo:          petRepo,
		loc:              loc,
		logger:           logger,
	}
}

func (r *Recorder) Notify(ctx context.Context, event model.ReservationEvent) error {
	return r.Record(ctx, []model.ReservationEvent{event})
}

// Record は複数のイベントをまとめて通知レコードに変換し、保存します
func (r *Recorder) Record(ctx context.Context, events []model.ReservationEvent) error {
	ctx, seg := xray.BeginSubsegment(ctx, "Recorder.Record")
	closeSeg := func(err error) {
		if seg != nil {
			seg.Close(err)
		}
	}

	if len(events) == 0 {
		closeSeg(nil)
		return nil
	}

	// ペット名を取得
	petNameMap, err := r.getPetNameMap(ctx, events)
	if err != nil {
		closeSeg(err)
		return err
	}

	// イベントをレコードに変換
	records := make([]model.NotificationRecord, len(events))
	for i, event := range events {
		record, err := event.ToNotificationRecord(petNameMap[event.PetID], r.loc)
		if err != nil {
			closeSeg(err)
			return err
		}
		records[i] = *record
	}

	if err := r.notificationRepo.CreateNotifications(ctx, records); err != nil {
		closeSeg(err)
		return fmt.Errorf("failed to create notifications: %w", err)
	}

	r.logger.Debug("Notification records created", zap.Int("count", len(records)), zap.Int("pet_count", len(petNameMap)))
	closeSeg(nil)
	return nil
}

// イベントに含まれるペットIDからペット名を取得する
// N+1とならないように先に重複がないペットIDを取得しておく
func (r *Recorder) getPetNameMap(ctx context.Context, events []model.ReservationEvent) (map[int64]string, error) {
	petIDs := make([]int64, 0, len(events))
	for _, event := range events {
		// petIDが重複している場合はスキップ
		if slices.Contains(petIDs, event.PetID) {
			continue
		}
		petIDs = append(petIDs, event.PetID)
	}

	petNameMap := make(map[int64]string, len(petIDs))
	for _, petID := range petIDs {
		petName, err := r.petRepo.GetNameByID(ctx, petID)
		if err != nil {
			return nil, err
		}
		petNameMap[petID] = petName
	}

	return petNameMap, nil
}
