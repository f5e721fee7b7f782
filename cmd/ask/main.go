package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"coursechat/internal/chat"
	"coursechat/internal/config"
	"coursechat/internal/course"
	"coursechat/internal/infra"
	"coursechat/internal/logger"
	"coursechat/internal/rag"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	env := flag.String("env", "dev", "配置环境 dev/prod/test")
	courseID := flag.String("course", "", "课程 ID（必填）")
	flag.Parse()

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if *courseID == "" || query == "" {
		fmt.Println("用法: ask -course <courseId> <问题...>")
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(&chat.Message{}); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	}

	ctx := context.Background()

	// 只允许针对启用中的课程提问
	registry := course.NewRegistry(db)
	c, err := registry.GetActive(ctx, *courseID)
	if err != nil {
		logger.Fatal("获取课程失败", zap.String("course_id", *courseID), zap.Error(err))
	}

	store, err := rag.NewQdrantStore(rag.QdrantOptions{
		Endpoint:       cfg.Qdrant.Endpoint,
		APIKey:         cfg.Qdrant.APIKey,
		Distance:       cfg.Qdrant.Distance,
		TimeoutSeconds: cfg.Qdrant.TimeoutSeconds,
	})
	if err != nil {
		logger.Fatal("初始化 Qdrant 失败", zap.Error(err))
	}

	llm, err := infra.NewOpenAIClient(&cfg.OpenAI)
	if err != nil {
		logger.Fatal("初始化 OpenAI 客户端失败", zap.Error(err))
	}

	// 问题必须用课程摄取时的同一套嵌入配置向量化
	embedder := rag.NewOpenAIEmbeddingProvider(llm, c.EmbeddingModel, c.EmbeddingDimensions)

	answerer := chat.NewAnswerer(llm, embedder, store, db, logger.Get(), chat.Options{
		Model:           cfg.OpenAI.ChatModel,
		TopK:            cfg.Chat.TopK,
		MaxContextChars: cfg.Chat.MaxContextChars,
		Temperature:     float32(cfg.Chat.Temperature),
		MaxTokens:       cfg.Chat.MaxTokens,
	})

	answer, err := answerer.Ask(ctx, c, query)
	if err != nil {
		if rag.IsDimensionMismatch(err) {
			fmt.Printf("课程向量索引已过期: %v\n", err)
			fmt.Println("请对该课程重新执行摄取（ingest -force）后再试。")
			os.Exit(3)
		}
		logger.Fatal("问答失败", zap.Error(err))
	}

	if answer.Text == "" {
		fmt.Println("(模型未返回内容)")
		return
	}
	fmt.Println(answer.Text)
	fmt.Printf("\n[课程=%s 命中=%d 耗时=%dms]\n", answer.CourseID, answer.Hits, answer.LatencyMs)
}
