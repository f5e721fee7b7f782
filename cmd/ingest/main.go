package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"coursechat/internal/config"
	"coursechat/internal/course"
	"coursechat/internal/infra"
	"coursechat/internal/ingest"
	"coursechat/internal/logger"
	"coursechat/internal/rag"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	env := flag.String("env", "dev", "配置环境 dev/prod/test")
	courseID := flag.String("course", "", "课程 ID（必填）")
	dir := flag.String("dir", "", "字幕文件目录（必填，递归扫描 .vtt）")
	force := flag.Bool("force", false, "强制重建向量集合后再摄取")
	create := flag.Bool("create", false, "课程不存在时自动创建")
	name := flag.String("name", "", "自动创建课程时的显示名称")
	flag.Parse()

	if *courseID == "" || *dir == "" {
		flag.Usage()
		os.Exit(2)
	}

	// 统一加载 .env，便于集中管理 APP_* 环境变量
	if err := godotenv.Load(); err == nil {
		fmt.Println("已加载 .env 文件")
	}

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
		if err := db.AutoMigrate(&course.Course{}, &ingest.IngestionJob{}); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	}

	ctx := context.Background()

	registry := course.NewRegistry(db)
	c, err := registry.Get(ctx, *courseID)
	if err == course.ErrNotFound && *create {
		c, err = registry.Create(ctx, &course.CreateCourseRequest{
			CourseID:            *courseID,
			Name:                courseName(*name, *courseID),
			EmbeddingModel:      cfg.OpenAI.EmbeddingModel,
			EmbeddingDimensions: cfg.OpenAI.EmbeddingDimensions,
		})
	}
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
	embedder := rag.NewOpenAIEmbeddingProvider(llm, c.EmbeddingModel, c.EmbeddingDimensions)

	files, err := collectVTTFiles(*dir)
	if err != nil {
		logger.Fatal("扫描字幕目录失败", zap.String("dir", *dir), zap.Error(err))
	}
	if len(files) == 0 {
		logger.Fatal("目录下没有任何 .vtt 文件", zap.String("dir", *dir))
	}

	svc := ingest.NewService(
		db,
		store,
		embedder,
		ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		registry,
		logger.Get(),
	)
	svc.WithProgressSinks(&ingest.LogSink{Logger: logger.Get()})

	// Redis 可选：启用时把进度事件发布给订阅方
	if cfg.Redis.Enabled {
		rdb, redisErr := infra.InitRedis(&cfg.Redis)
		if redisErr != nil {
			logger.Warn("Redis 不可用，跳过进度发布", zap.Error(redisErr))
		} else {
			defer infra.CloseRedis()
			svc.WithProgressSinks(ingest.NewRedisSink(rdb, logger.Get()))
		}
	}

	summary, err := svc.Run(ctx, c, files, *force)
	if err != nil {
		logger.Fatal("摄取任务失败", zap.Error(err))
	}

	fmt.Printf("摄取完成: 课程=%s 文件=%d/%d 向量=%d 集合重建=%v\n",
		c.CourseID, summary.ProcessedFiles, summary.TotalFiles, summary.Upserted, summary.CollectionReset)
}

// collectVTTFiles 递归收集目录下的 .vtt 文件，按相对路径排序保证处理顺序稳定
func collectVTTFiles(root string) ([]ingest.File, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".vtt") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	files := make([]ingest.File, 0, len(paths))
	for _, path := range paths {
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("读取文件 %s 失败: %w", path, readErr)
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		files = append(files, ingest.File{Name: filepath.ToSlash(rel), Content: content})
	}
	return files, nil
}

func courseName(name, courseID string) string {
	if name != "" {
		return name
	}
	return courseID
}
