package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/aegisstack/aegis-agent/internal/utils"
)

func TestChunkLogsFastPath(t *testing.T) {
	text := "line one\nline two"
	chunks, err := ChunkLogs(text, 1000, 4)
	if err != nil {
		t.Fatalf("ChunkLogs: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected single chunk, got %d", len(chunks))
	}
	if chunks[0].Content != text || chunks[0].Index != 0 || chunks[0].Total != 1 {
		t.Fatalf("unexpected chunk: %+v", chunks[0])
	}
}

func TestChunkLogsReassembly(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, strings.Repeat("x", 20+i%13))
	}
	text := strings.Join(lines, "\n")

	chunks, err := ChunkLogs(text, 50, 4)
	if err != nil {
		t.Fatalf("ChunkLogs: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
		if c.Total != len(chunks) {
			t.Fatalf("chunk %d has total %d, want %d", i, c.Total, len(chunks))
		}
		contents[i] = c.Content
	}
	if got := strings.Join(contents, "\n"); got != text {
		t.Fatal("reassembled chunks do not reproduce the input")
	}
}

func TestChunkLogsBudgetRespected(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, strings.Repeat("a", 40))
	}
	text := strings.Join(lines, "\n")

	const budget = 60
	chunks, err := ChunkLogs(text, budget, 4)
	if err != nil {
		t.Fatalf("ChunkLogs: %v", err)
	}
	for _, c := range chunks {
		if strings.Contains(c.Content, "\n") && EstimateTokens(c.Content, 4) > budget {
			t.Fatalf("multi-line chunk %d over budget: %d tokens", c.Index, EstimateTokens(c.Content, 4))
		}
	}
}

func TestChunkLogsOversizedLine(t *testing.T) {
	long := strings.Repeat("z", 4000) // 1000 estimated tokens
	text := "short\n" + long + "\nshort again"

	chunks, err := ChunkLogs(text, 100, 4)
	if err != nil {
		t.Fatalf("ChunkLogs: %v", err)
	}

	// The oversized line is never split and lands in a chunk of its own.
	found := false
	for _, c := range chunks {
		if c.Content == long {
			found = true
		}
		if strings.Contains(c.Content, long) && c.Content != long {
			t.Fatalf("oversized line merged with other lines")
		}
	}
	if !found {
		t.Fatal("oversized line missing from chunks")
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	if strings.Join(contents, "\n") != text {
		t.Fatal("reassembly broken with oversized line")
	}
}

func TestChunkLogsInvalidConfig(t *testing.T) {
	if _, err := ChunkLogs("logs", 0, 4); !errors.Is(err, utils.ErrConfigurationInvalid) {
		t.Fatalf("maxTokens=0 error = %v, want ErrConfigurationInvalid", err)
	}
	if _, err := ChunkLogs("logs", 100, 0); !errors.Is(err, utils.ErrConfigurationInvalid) {
		t.Fatalf("charsPerToken=0 error = %v, want ErrConfigurationInvalid", err)
	}
}
