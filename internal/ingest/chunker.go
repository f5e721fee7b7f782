package ingest

import (
	"strings"
	"unicode/utf8"
)

// 分割边界从粗到细：段落、换行、空格，最后退化为逐字符
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunker 文本分块器
// 递归按优先级选择最粗的可用边界切分，相邻分块保留 ChunkOverlap 个字符的重叠。
// 纯函数实现：同一输入与参数必然产出相同的分块序列。
type Chunker struct {
	ChunkSize    int // 分块大小(字符数)
	ChunkOverlap int // 重叠大小(字符数)

	separators []string
}

// NewChunker 创建分块器
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 400
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}

	return &Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split 将文本切分为有序分块序列，空白分块被过滤
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.splitText(text, c.separators)
}

func (c *Chunker) splitText(text string, separators []string) []string {
	// 选择当前层级的分隔符：第一个在文本中出现的；"" 永远兜底
	separator := separators[len(separators)-1]
	var finer []string
	for i, s := range separators {
		if s == "" {
			separator = s
			finer = nil
			break
		}
		if strings.Contains(text, s) {
			separator = s
			finer = separators[i+1:]
			break
		}
	}

	splits := splitOn(text, separator)

	var chunks []string
	var pending []string
	for _, piece := range splits {
		if utf8.RuneCountInString(piece) < c.ChunkSize {
			pending = append(pending, piece)
			continue
		}

		// 超长片段：先落盘已积累的片段，再用更细的边界继续切
		if len(pending) > 0 {
			chunks = append(chunks, c.merge(pending, separator)...)
			pending = nil
		}
		if len(finer) == 0 {
			if trimmed := strings.TrimSpace(piece); trimmed != "" {
				chunks = append(chunks, trimmed)
			}
		} else {
			chunks = append(chunks, c.splitText(piece, finer)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, c.merge(pending, separator)...)
	}
	return chunks
}

// merge 将细粒度片段贪心合并到 ChunkSize 以内，并在分块之间保留重叠窗口
func (c *Chunker) merge(splits []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)

	var docs []string
	var window []string
	total := 0

	for _, piece := range splits {
		pieceLen := utf8.RuneCountInString(piece)

		if total+pieceLen+joinLen(sepLen, len(window) > 0) > c.ChunkSize && len(window) > 0 {
			if doc := joinPieces(window, separator); doc != "" {
				docs = append(docs, doc)
			}
			// 弹出窗口头部，直到剩余内容缩进重叠预算之内
			for total > c.ChunkOverlap || (total+pieceLen+joinLen(sepLen, len(window) > 0) > c.ChunkSize && total > 0) {
				total -= utf8.RuneCountInString(window[0]) + joinLen(sepLen, len(window) > 1)
				window = window[1:]
			}
		}

		window = append(window, piece)
		total += pieceLen + joinLen(sepLen, len(window) > 1)
	}

	if doc := joinPieces(window, separator); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitOn 按分隔符切分并去掉空片段；空分隔符退化为逐字符切分
func splitOn(text, separator string) []string {
	if separator == "" {
		runes := []rune(text)
		out := make([]string, len(runes))
		for i, r := range runes {
			out[i] = string(r)
		}
		return out
	}

	parts := strings.Split(text, separator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinPieces(pieces []string, separator string) string {
	return strings.TrimSpace(strings.Join(pieces, separator))
}

func joinLen(sepLen int, joined bool) int {
	if joined {
		return sepLen
	}
	return 0
}
