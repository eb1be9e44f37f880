// 手动重新评分脚本
//
// 修改评分规则或开启 AI 等价判断后，对某张试卷的全部已提交作答重新评分。
// 人工评分和人工改分过的题目保持不变。
//
// 用法: go run scripts/regrade.go -assessment 12

package main

import (
	"assessment_backend/internal/config"
	"assessment_backend/internal/grading"
	"assessment_backend/internal/model"
	"assessment_backend/internal/repository"
	"assessment_backend/internal/service"
	"assessment_backend/pkg/database"
	"assessment_backend/pkg/locker"
	"assessment_backend/pkg/logger"
	"context"
	"flag"
	"log"

	"go.uber.org/zap"
)

func main() {
	assessmentID := flag.Uint("assessment", 0, "试卷ID")
	flag.Parse()
	if *assessmentID == 0 {
		log.Fatal("缺少 -assessment 参数")
	}

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}
	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Redis 连接失败: %v", err)
	}

	var checker grading.EquivalenceChecker
	if pool := service.NewProviderPoolFromConfig(cfg.AI); pool.Len() > 0 {
		checker = service.NewEquivalenceService(pool)
	}

	assessments := repository.NewAssessmentRepository(db)
	attempts := repository.NewAttemptRepository(db)
	svc := service.NewGradingService(db, assessments, attempts, locker.New(rdb), checker, cfg.Grading)

	list, err := attempts.ListByAssessment(uint(*assessmentID))
	if err != nil {
		log.Fatalf("查询作答失败: %v", err)
	}

	admin := service.Actor{Role: model.Admin}
	regraded := 0
	for _, a := range list {
		if a.Status != model.AttemptCompleted {
			continue
		}
		res, err := svc.RegradeAttempt(context.Background(), admin, a.ID)
		if err != nil {
			logger.Log.Warn("重新评分失败", zap.Uint("attemptId", a.ID), zap.Error(err))
			continue
		}
		regraded++
		logger.Log.Info("重新评分完成", zap.Uint("attemptId", a.ID), zap.Float64("score", res.Score))
	}
	log.Printf("完成！共重新评分 %d/%d 份作答", regraded, len(list))
}
