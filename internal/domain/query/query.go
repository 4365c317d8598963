// Пакет query — разбор и вычисление булевых поисковых запросов.
//
// Грамматика: запрос — дизъюнкция (||) конъюнкций (&&) литеральных подстрок:
//
//	group1 && group2 || group3
//
// Сначала строка делится по ||, затем каждая группа по &&. Лист — обрезанная
// подстрока, сравнивается без учёта регистра, без regex.
// Экранирования нет: лист не может содержать && или ||.
package query

import (
	"errors"
	"strings"
)

const (
	orSeparator  = "||"
	andSeparator = "&&"
)

// ErrEmptyQuery — запрос не содержит ни одного непустого листа.
var ErrEmptyQuery = errors.New("пустой поисковый запрос")

// Query — разобранный запрос: список групп, каждая группа — список листов
// в нижнем регистре. Документ подходит, если подходит хотя бы одна группа.
type Query struct {
	groups [][]string
}

// Parse разбирает строку запроса. Пустые листы и группы отбрасываются.
func Parse(raw string) (*Query, error) {
	q := &Query{}
	for _, part := range strings.Split(raw, orSeparator) {
		var group []string
		for _, leaf := range strings.Split(part, andSeparator) {
			leaf = strings.TrimSpace(leaf)
			if leaf == "" {
				continue
			}
			group = append(group, strings.ToLower(leaf))
		}
		if len(group) > 0 {
			q.groups = append(q.groups, group)
		}
	}

	if len(q.groups) == 0 {
		return nil, ErrEmptyQuery
	}
	return q, nil
}

// Match проверяет текст документа. Группа удовлетворена, если все её
// листы — подстроки текста.
func (q *Query) Match(text string) bool {
	lower := strings.ToLower(text)
	for _, group := range q.groups {
		if matchGroup(group, lower) {
			return true
		}
	}
	return false
}

// Groups возвращает копию разобранных групп.
func (q *Query) Groups() [][]string {
	out := make([][]string, len(q.groups))
	for i, g := range q.groups {
		out[i] = append([]string(nil), g...)
	}
	return out
}

// String возвращает нормализованную запись запроса.
func (q *Query) String() string {
	parts := make([]string, len(q.groups))
	for i, g := range q.groups {
		parts[i] = strings.Join(g, " "+andSeparator+" ")
	}
	return strings.Join(parts, " "+orSeparator+" ")
}

// Evaluate разбирает запрос и проверяет им текст.
// Некорректный (пустой) запрос не совпадает ни с чем.
func Evaluate(raw, text string) bool {
	q, err := Parse(raw)
	if err != nil {
		return false
	}
	return q.Match(text)
}

func matchGroup(group []string, lowerText string) bool {
	for _, leaf := range group {
		if !strings.Contains(lowerText, leaf) {
			return false
		}
	}
	return true
}
