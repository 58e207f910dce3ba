package models

// AnalysisRequest carries one log-analysis invocation through the pipeline.
type AnalysisRequest struct {
	Logs           string
	CollectionName string
	TopK           int
	Language       LanguageCode
	LogSource      string
}

// DefaultLogSource labels requests whose logs arrived inline rather than as a file.
const DefaultLogSource = "From_Pure_Logs"

// Normalize fills unset optional fields with the pipeline defaults.
func (r *AnalysisRequest) Normalize() {
	if r.CollectionName == "" {
		r.CollectionName = "SecurityCriteria"
	}
	if r.TopK <= 0 {
		r.TopK = 5
	}
	if r.Language == "" {
		r.Language = LangChinese
	}
	if r.LogSource == "" {
		r.LogSource = DefaultLogSource
	}
}

// ModelInfo describes one registered LLM provider for the models endpoint.
type ModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsCurrent   bool   `json:"is_current"`
}
