package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-memorial/internal/common/config"
	"github.com/uma-arai/sbcntr-memorial/internal/common/logger"
	"github.com/uma-arai/sbcntr-memorial/internal/common/utils"
	"github.com/uma-arai/sbcntr-memorial/internal/service/batch"
	"go.uber.org/zap"
)

const (
	projectName = "sbcntr-memorial"
)

func main() {
	// コマンドライン引数のパース
	timeout := flag.Duration("timeout", 5*time.Minute, "1回実行時のタイムアウト時間")
	once := flag.Bool("once", false, "リコンサイルを1回だけ実行して終了する(Step Functions用)")
	flag.Parse()

	// 1回実行の場合は最後の引数として渡されたタスクトークンを取得
	// ENV=LOCALの場合はタスクトークンを取得しない
	taskToken := "DUMMY_TASK_TOKEN"
	if *once && os.Getenv("ENV") != "LOCAL" {
		if flag.NArg() == 0 || flag.Arg(flag.NArg()-1) == "" {
			log.Fatalf("Task token is required")
		}
		taskToken = flag.Arg(flag.NArg() - 1)
	}

	// 設定の読み込み
	cfg, err := config.LoadConfig(taskToken)
	if err != nil {
		log.Fatalf("Failed to load config: %v\nStack trace:\n%s", err, debug.Stack())
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	// X-Ray設定
	if cfg.EnableTracing {
		if err := xray.Configure(xray.Config{
			DaemonAddr:     "127.0.0.1:2000", // X-Rayデーモンのアドレス
			ServiceVersion: "1.0.0",
		}); err != nil {
			zl.Warn("Failed to configure X-Ray", zap.Error(err))
			// X-Ray設定失敗時はデフォルトの設定を使用
			if configErr := xray.Configure(xray.Config{}); configErr != nil {
				zl.Fatal("Failed to configure default X-Ray settings", zap.Error(configErr))
			}
		}
		os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	}

	a, err := newApp(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to create reconciler", zap.Error(utils.GetStackWithError(err)))
	}
	defer a.Close()

	a.dispatcher.Start()
	defer a.dispatcher.Stop()

	if *once {
		if err := runOnce(cfg, a, taskToken, *timeout); err != nil {
			a.dispatcher.Stop()
			a.Close()
			os.Exit(1)
		}
		return
	}
	runForever(a)
}

// runOnce はStep Functionsのタスクとしてリコンサイルを1回実行します
func runOnce(cfg *config.Config, a *app, taskToken string, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step Functionsクライアントの初期化
	var reporter batch.TaskReporter
	if !cfg.IsLocal() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			a.logger.Error("Failed to load AWS config", zap.Error(err))
			return err
		}
		reporter = sfn.NewFromConfig(awsCfg)
	}
	oneShot := batch.NewOneShot(a.reconciler, reporter, taskToken, a.logger)

	// X-Rayセグメントの作成
	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName)
		defer seg.Close(nil)

		// セグメントにメタデータを追加
		if err := seg.AddMetadata("task_token", taskToken); err != nil {
			a.logger.Warn("Failed to add task_token metadata", zap.Error(err))
		}
		if err := seg.AddMetadata("timeout", timeout.String()); err != nil {
			a.logger.Warn("Failed to add timeout metadata", zap.Error(err))
		}
	}

	// シグナルハンドリングの設定
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, timeout, oneShot.Run)
	}()

	// シグナルまたはエラーの待機
	select {
	case sig := <-sigChan:
		a.logger.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
		return nil
	case err := <-errChan:
		if err != nil {
			a.logger.Error("Reconcile failed", zap.Error(err))
			if reportErr := oneShot.ReportFailure(context.WithoutCancel(ctx), err); reportErr != nil {
				a.logger.Error("Failed to report task failure", zap.Error(reportErr))
			}
			return err
		}
		a.logger.Info("Reconcile completed successfully")
		return nil
	}
}

// runForever はシグナルを受け取るまで一定間隔でリコンサイルを実行します
func runForever(a *app) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.reconciler.Start(ctx)
	<-ctx.Done()

	a.logger.Info("Shutting down reconciler")
	a.reconciler.Stop()
}
