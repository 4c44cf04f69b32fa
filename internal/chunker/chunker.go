// Package chunker делит исходный текст на фрагменты размером в страницу.
package chunker

import "strings"

// DefaultMaxWords - лимит слов на страницу, используемый пайплайном.
const DefaultMaxWords = 200

// Chunk разбивает текст по пробельным символам и собирает подряд идущие слова
// во фрагменты не длиннее maxWords слов с сохранением порядка. Слова не
// разрезаются, пустых фрагментов не бывает. Для текста из одних пробелов
// фрагментов нет. Неположительный лимит заменяется на DefaultMaxWords.
func Chunk(text string, maxWords int) []string {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+maxWords-1)/maxWords)
	for start := 0; start < len(words); start += maxWords {
		end := min(start+maxWords, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
