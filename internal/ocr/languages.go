// languages.go — таблица языков внешнего инструмента OCR.
// Коды — теги Tesseract (ISO 639-3 / 639-2/T), для каждого известен
// двухбуквенный код ISO 639-1.
package ocr

import (
	"fmt"
	"slices"
	"strings"
)

// Language — язык, поддерживаемый инструментом OCR.
type Language struct {
	// Code — тег инструмента (eng, vie, ...)
	Code string
	// Alpha2 — код ISO 639-1 (en, vi, ...)
	Alpha2 string
	// English — название на английском
	English string
}

// languages — известные инструменту языки.
var languages = map[string]Language{
	"eng": {Code: "eng", Alpha2: "en", English: "English"},
	"vie": {Code: "vie", Alpha2: "vi", English: "Vietnamese"},
	"deu": {Code: "deu", Alpha2: "de", English: "German"},
	"fra": {Code: "fra", Alpha2: "fr", English: "French"},
	"spa": {Code: "spa", Alpha2: "es", English: "Spanish"},
	"ita": {Code: "ita", Alpha2: "it", English: "Italian"},
	"por": {Code: "por", Alpha2: "pt", English: "Portuguese"},
	"rus": {Code: "rus", Alpha2: "ru", English: "Russian"},
	"ukr": {Code: "ukr", Alpha2: "uk", English: "Ukrainian"},
	"pol": {Code: "pol", Alpha2: "pl", English: "Polish"},
	"nld": {Code: "nld", Alpha2: "nl", English: "Dutch"},
	"jpn": {Code: "jpn", Alpha2: "ja", English: "Japanese"},
	"kor": {Code: "kor", Alpha2: "ko", English: "Korean"},

	// Теги со скриптом
	"chi_sim": {Code: "chi_sim", Alpha2: "zh", English: "Chinese (Simplified)"},
}

// LookupLanguage возвращает язык по тегу инструмента.
func LookupLanguage(code string) (Language, bool) {
	l, ok := languages[code]
	return l, ok
}

// Alpha2 возвращает код ISO 639-1 или пустую строку для неизвестного тега.
func Alpha2(code string) string {
	return languages[code].Alpha2
}

// KnownLanguages возвращает отсортированный список известных тегов.
func KnownLanguages() []string {
	codes := make([]string, 0, len(languages))
	for code := range languages {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// ValidateLanguages проверяет запрошенные языки по набору разрешённых.
// Возвращает нормализованный список без дубликатов в исходном порядке.
func ValidateLanguages(codes, supported []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("не указан ни один язык")
	}

	seen := make(map[string]bool, len(codes))
	result := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			return nil, fmt.Errorf("пустой код языка")
		}
		if !slices.Contains(supported, c) {
			return nil, fmt.Errorf("язык %q не поддерживается, допустимые: %s",
				c, strings.Join(supported, ", "))
		}
		if _, known := languages[c]; !known {
			return nil, fmt.Errorf("язык %q неизвестен инструменту OCR", c)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		result = append(result, c)
	}
	return result, nil
}

// languageArg формирует значение аргумента -l (eng+vie).
func languageArg(codes []string) string {
	return strings.Join(codes, "+")
}
