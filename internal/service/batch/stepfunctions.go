package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/uma-arai/sbcntr-memorial/internal/common/utils"
	"go.uber.org/zap"
)

// TaskReporter はStep Functionsのタスク結果を通知するクライアントです
type TaskReporter interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

// OneShot はStep Functionsのタスクとしてリコンサイルを1回だけ実行します
type OneShot struct {
	reconciler *Reconciler
	reporter   TaskReporter
	taskToken  string
	logger     *zap.Logger
}

// NewOneShot は新しいOneShotを作成します
// reporterがnilの場合(ローカル実行)はStep Functionsへの通知をスキップします
func NewOneShot(reconciler *Reconciler, reporter TaskReporter, taskToken string, logger *zap.Logger) *OneShot {
	return &OneShot{
		reconciler: reconciler,
		reporter:   reporter,
		taskToken:  taskToken,
		logger:     logger,
	}
}

// Run はTickを実行し、結果をタスク成功として通知します
func (o *OneShot) Run(ctx context.Context) error {
	summary := o.reconciler.Tick(ctx)
	if err := ctx.Err(); err != nil {
		return utils.GetStackWithError(fmt.Errorf("reconcile tick interrupted: %w", err))
	}
	if summary.Failed > 0 {
		o.logger.Warn("Reconcile tick finished with failures", zap.Int("failed", summary.Failed))
	}

	if err := o.sendTaskSuccess(ctx, summary); err != nil {
		return utils.GetStackWithError(fmt.Errorf("failed to send task success: %w", err))
	}
	return nil
}

// ReportFailure はタスク失敗を通知します
func (o *OneShot) ReportFailure(ctx context.Context, cause error) error {
	if o.reporter == nil {
		return nil
	}
	input := &sfn.SendTaskFailureInput{
		TaskToken: aws.String(o.taskToken),
		Error:     aws.String("Reconcile failed"),
		Cause:     aws.String(cause.Error()),
	}
	if _, err := o.reporter.SendTaskFailure(ctx, input); err != nil {
		return fmt.Errorf("failed to send task failure: %w", err)
	}
	return nil
}

// sendTaskSuccess は、Step Functionsのタスク成功を通知し、集計結果を返却します
func (o *OneShot) sendTaskSuccess(ctx context.Context, summary Summary) error {
	// ローカルの場合はStep Functionsの処理をスキップ
	if o.reporter == nil {
		o.logger.Info("Local environment detected. Skipping Step Functions task success notification")
		return nil
	}
	if o.taskToken == "" {
		return fmt.Errorf("SFN_TASK_TOKEN is not set in config")
	}

	output, err := json.Marshal(map[string]any{
		"summary": summary,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	input := &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(o.taskToken),
		Output:    aws.String(string(output)),
	}
	if _, err := o.reporter.SendTaskSuccess(ctx, input); err != nil {
		return err
	}

	o.logger.Info("Successfully sent task success", zap.String("output", string(output)))
	return nil
}
