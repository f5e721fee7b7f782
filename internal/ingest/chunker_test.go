package ingest

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkerShortTextSingleChunk(t *testing.T) {
	c := NewChunker(400, 50)
	chunks := c.Split("短文本一段。")
	if len(chunks) != 1 || chunks[0] != "短文本一段。" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	c := NewChunker(400, 50)
	if chunks := c.Split("   \n\n  "); chunks != nil {
		t.Fatalf("chunks = %v, want nil", chunks)
	}
}

// 1000 个字符、块大小 400、重叠 50 时应产出 3 个分块
func TestChunkerApproxChunkCount(t *testing.T) {
	var b strings.Builder
	for b.Len() < 1000 {
		b.WriteString("word ")
	}
	text := b.String()[:1000]

	c := NewChunker(400, 50)
	chunks := c.Split(text)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for i, chunk := range chunks {
		if n := utf8.RuneCountInString(chunk); n > 400 {
			t.Fatalf("chunk %d length %d exceeds 400", i, n)
		}
	}
}

func TestChunkerDeterministic(t *testing.T) {
	text := strings.Repeat("第一段内容。\n\n第二段内容比较长一些，包含多句话。这是第二句。\n", 30)
	c := NewChunker(400, 50)

	first := c.Split(text)
	second := c.Split(text)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("same input produced different chunk sequences")
	}
}

func TestChunkerPrefersCoarseBoundaries(t *testing.T) {
	para1 := strings.Repeat("a", 200)
	para2 := strings.Repeat("b", 200)
	text := para1 + "\n\n" + para2

	c := NewChunker(400, 50)
	chunks := c.Split(text)
	// 两段合计超过 400（含分隔），必须在段落边界切开
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2: %v", len(chunks), chunks)
	}
	if chunks[0] != para1 || chunks[1] != para2 {
		t.Fatal("chunks do not align with paragraph boundaries")
	}
}

func TestChunkerOverlapCarriesContext(t *testing.T) {
	words := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		words = append(words, "tok")
	}
	text := strings.Join(words, " ")

	c := NewChunker(100, 20)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want >= 2", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1][len(chunks[i-1])-10:]
		if !strings.Contains(chunks[i], prevTail[:3]) {
			// 重叠窗口保证相邻分块共享尾部内容
			t.Fatalf("chunk %d does not overlap with its predecessor", i)
		}
	}
}

func TestChunkerNoContentLoss(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	c := NewChunker(20, 5)
	chunks := c.Split(text)

	joined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(text) {
		if !strings.Contains(joined, word) {
			t.Fatalf("word %q missing from chunks %v", word, chunks)
		}
	}
}

func TestChunkerRuneSplitFallback(t *testing.T) {
	// 无空格无换行的长文本只能退化为逐字符切分
	text := strings.Repeat("连", 900)
	c := NewChunker(400, 50)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want >= 2", len(chunks))
	}
	for i, chunk := range chunks {
		if n := utf8.RuneCountInString(chunk); n > 400 {
			t.Fatalf("chunk %d length %d exceeds 400", i, n)
		}
	}
}

func TestChunkerOverlapClampedToSize(t *testing.T) {
	c := NewChunker(100, 100)
	if c.ChunkOverlap >= c.ChunkSize {
		t.Fatalf("overlap %d not clamped below size %d", c.ChunkOverlap, c.ChunkSize)
	}
}
