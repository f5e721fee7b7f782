package ingest

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoCues 字幕文件中找不到任何可用 cue
var ErrNoCues = errors.New("字幕文件中没有任何 cue")

var inlineTagPattern = regexp.MustCompile(`<[^>]*>`)

// ParseVTT 将 WebVTT 字幕解析为按时间顺序拼接的纯文本（宽松模式）
// 各 cue 文本以换行符连接；损坏的 cue 块跳过不报错，完全解析不出 cue 才返回错误。
func ParseVTT(raw string) (string, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimPrefix(text, "\uFEFF")

	var cues []string
	for _, block := range strings.Split(text, "\n\n") {
		lines := strings.Split(block, "\n")

		// 定位计时行；之前的内容是可选的 cue 标识符
		timingIdx := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timingIdx = i
				break
			}
		}
		if timingIdx < 0 {
			// 文件头（WEBVTT）、NOTE/STYLE/REGION 块或损坏块，跳过
			continue
		}

		var body []string
		for _, line := range lines[timingIdx+1:] {
			line = strings.TrimSpace(inlineTagPattern.ReplaceAllString(line, ""))
			if line == "" {
				continue
			}
			body = append(body, line)
		}
		if len(body) > 0 {
			cues = append(cues, strings.Join(body, "\n"))
		}
	}

	if len(cues) == 0 {
		// 连一个计时行都没有视为解析失败；有 cue 但全为空白则按空内容处理
		if !strings.Contains(text, "-->") {
			return "", ErrNoCues
		}
		return "", nil
	}

	return strings.TrimSpace(strings.Join(cues, "\n")), nil
}
