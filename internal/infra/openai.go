package infra

import (
	"fmt"

	"coursechat/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

// NewOpenAIClient 按配置构造 OpenAI 客户端
// 嵌入与对话共用同一客户端，BaseURL 可指向兼容网关。
func NewOpenAIClient(cfg *config.OpenAIConfig) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api_key 未配置")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.OrgID != "" {
		clientCfg.OrgID = cfg.OrgID
	}
	return openai.NewClientWithConfig(clientCfg), nil
}
