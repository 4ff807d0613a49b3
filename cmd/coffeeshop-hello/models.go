package main

import "time"

// AcceptedLanguage selects the greeting of the hello-world machine.
type AcceptedLanguage string

const (
	LanguageEnglish AcceptedLanguage = "en"
	LanguageItalian AcceptedLanguage = "es"
	LanguageChinese AcceptedLanguage = "zh"
)

// Greeting returns the salutation for the language, defaulting to English.
func (l AcceptedLanguage) Greeting() string {
	switch l {
	case LanguageItalian:
		return "Ciao"
	case LanguageChinese:
		return "你好"
	default:
		return "Hello"
	}
}

// HelloQuery is the query shape of the hello-world service.
type HelloQuery struct {
	Language       AcceptedLanguage `schema:"language"`
	TimeoutSeconds float64          `schema:"timeout"`
	Async          bool             `schema:"async"`
}

// Timeout implements machine.Query.
func (q HelloQuery) Timeout() time.Duration {
	return time.Duration(q.TimeoutSeconds * float64(time.Second))
}

// IsAsync implements machine.Query.
func (q HelloQuery) IsAsync() bool { return q.Async }

// HelloPayload is the request body shape.
type HelloPayload struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

// HelloResult is the output shape.
type HelloResult struct {
	Greeting string `json:"greeting"`
	AnswerID uint64 `json:"answer_id"`
}
