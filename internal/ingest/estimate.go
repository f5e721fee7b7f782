package ingest

import (
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const (
	// text-embedding-3-small 的单价（美元 / 1K token）
	embeddingCostPer1KTokens = 0.00002
	// tiktoken 不可用时按平均 4 字符一个 token 估算
	avgCharsPerToken = 4
)

// FileEstimate 单个字幕文件的成本估算
type FileEstimate struct {
	File             string  `json:"file"`
	Chars            int     `json:"chars,omitempty"`
	Tokens           int     `json:"tokens"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
}

// CostReport 一个课程目录的摄取成本估算报告
type CostReport struct {
	TotalFiles       int            `json:"totalFiles"`
	TotalChars       int            `json:"totalChars"`
	EstimatedTokens  int            `json:"estimatedTokens"`
	EstimatedCostUSD float64        `json:"estimatedCostUsd"`
	Top10ByTokens    []FileEstimate `json:"top10ByTokens"`
}

// Estimator 摄取成本估算器
// 优先用 tiktoken 精确计数，编码器不可用时退化为按字符数估算。
type Estimator struct {
	encoder *tiktoken.Tiktoken
	logger  *zap.Logger
}

// NewEstimator 创建成本估算器
func NewEstimator(model string, logger *zap.Logger) *Estimator {
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Warn("tiktoken 编码器不可用，按字符数估算 token", zap.Error(err))
			tkm = nil
		}
	}
	return &Estimator{encoder: tkm, logger: logger}
}

// CountTokens 计算一段文本的 token 数
func (e *Estimator) CountTokens(text string) int {
	if e.encoder != nil {
		return len(e.encoder.Encode(text, nil, nil))
	}
	return int(math.Ceil(float64(len(text)) / avgCharsPerToken))
}

// EstimateDir 递归扫描目录下的 .vtt 文件并汇总成本报告
// 读不动的文件跳过告警，不中断整个估算。
func (e *Estimator) EstimateDir(root string) (*CostReport, error) {
	var details []FileEstimate
	totalChars := 0
	totalTokens := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".vtt") {
			return nil
		}

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			e.logger.Warn("读取字幕文件失败，跳过",
				zap.String("file", path),
				zap.Error(readErr),
			)
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		chars := len(raw)
		tokens := e.CountTokens(string(raw))
		totalChars += chars
		totalTokens += tokens

		details = append(details, FileEstimate{
			File:             filepath.ToSlash(rel),
			Chars:            chars,
			Tokens:           tokens,
			EstimatedCostUSD: roundUSD(float64(tokens) / 1000 * embeddingCostPer1KTokens),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(details, func(i, j int) bool {
		return details[i].Tokens > details[j].Tokens
	})
	top := details
	if len(top) > 10 {
		top = top[:10]
	}

	return &CostReport{
		TotalFiles:       len(details),
		TotalChars:       totalChars,
		EstimatedTokens:  totalTokens,
		EstimatedCostUSD: roundUSD(float64(totalTokens) / 1000 * embeddingCostPer1KTokens),
		Top10ByTokens:    top,
	}, nil
}

func roundUSD(v float64) float64 {
	return math.Round(v*10000) / 10000
}
