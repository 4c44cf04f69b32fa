package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestChunk_EmptyInput(t *testing.T) {
	assert.Empty(t, Chunk("", 200))
	assert.Empty(t, Chunk("   \n\t  ", 200))
}

func TestChunk_SixHundredFiftyWords(t *testing.T) {
	chunks := Chunk(words(650), 200)
	require.Len(t, chunks, 4)

	sizes := make([]int, len(chunks))
	for i, c := range chunks {
		sizes[i] = len(strings.Fields(c))
	}
	assert.Equal(t, []int{200, 200, 200, 50}, sizes)
}

func TestChunk_Properties(t *testing.T) {
	inputs := []string{
		"one",
		"  leading and trailing  ",
		"line one\nline two\n\n\tline three",
		words(1),
		words(199),
		words(200),
		words(201),
		words(1000),
		"supercalifragilisticexpialidocious " + words(7),
	}
	budgets := []int{1, 2, 3, 7, 200}

	for _, in := range inputs {
		for _, w := range budgets {
			t.Run(fmt.Sprintf("budget_%d_len_%d", w, len(in)), func(t *testing.T) {
				chunks := Chunk(in, w)

				var rebuilt []string
				for _, c := range chunks {
					fields := strings.Fields(c)
					assert.NotEmpty(t, fields, "chunk must not be empty")
					assert.LessOrEqual(t, len(fields), w)
					rebuilt = append(rebuilt, fields...)
				}
				assert.Equal(t, strings.Fields(in), rebuilt)
			})
		}
	}
}

func TestChunk_Deterministic(t *testing.T) {
	in := words(523)
	assert.Equal(t, Chunk(in, 37), Chunk(in, 37))
}

func TestChunk_NonPositiveBudgetUsesDefault(t *testing.T) {
	chunks := Chunk(words(450), 0)
	require.Len(t, chunks, 3)
	assert.Len(t, strings.Fields(chunks[0]), DefaultMaxWords)
}
