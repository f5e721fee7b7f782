package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"coursechat/internal/ingest"

	"go.uber.org/zap"
)

// 摄取前预估一个字幕目录的嵌入成本，输出 JSON 报告
func main() {
	dir := flag.String("dir", "", "字幕文件目录（必填，递归扫描 .vtt）")
	model := flag.String("model", "text-embedding-3-small", "嵌入模型（决定 tokenizer）")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(2)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zl.Sync()

	estimator := ingest.NewEstimator(*model, zl)
	report, err := estimator.EstimateDir(*dir)
	if err != nil {
		log.Fatalf("成本估算失败: %v", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("序列化报告失败: %v", err)
	}
	fmt.Println(string(out))
}
