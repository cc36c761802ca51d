package evaluator

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
)

// SystemPrompt instructs the model to answer in the format ExtractScore reads.
const SystemPrompt = "Анализируй User Story по INVEST. Формат ответа:\n" +
	"Оценка: X/6\n" +
	"Проблемы: [только невыполненные критерии с кратким объяснением]\n" +
	"Рекомендации: [1-2 конкретных совета]\n\n" +
	"Пример:\n" +
	"Оценка: 4/6\n" +
	"Проблемы: N - нет обсуждаемости, E - сложно оценить\n" +
	"Рекомендации: Добавить варианты реализации, уточнить детали"

// UserMessage wraps a story for submission.
func UserMessage(story string) string {
	return fmt.Sprintf("User Story: %s", story)
}

var (
	labeledScore = regexp.MustCompile(`(?i)(?:оценка|score)\s*:\s*(\d)\s*/\s*6`)
	bareScore    = regexp.MustCompile(`(\d)\s*/\s*6`)
)

// ExtractScore returns the INVEST score (0..6) stated in an evaluation, or
// model.ScoreUnknown. A labeled "Оценка: X/6" or "Score: X/6" wins over the
// first bare "X/6".
func ExtractScore(result string) int {
	for _, re := range []*regexp.Regexp{labeledScore, bareScore} {
		m := re.FindStringSubmatch(result)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 0 && n <= 6 {
			return n
		}
	}
	return model.ScoreUnknown
}
