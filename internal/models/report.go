package models

import (
	"encoding/json"
	"time"

	"github.com/aegisstack/aegis-agent/internal/utils"
)

// LanguageCode selects the report language for LLM output.
type LanguageCode string

const (
	LangChinese LanguageCode = "zh"
	LangEnglish LanguageCode = "en"
)

// Valid reports whether the language code is one the analyzer supports.
func (l LanguageCode) Valid() bool {
	return l == LangChinese || l == LangEnglish
}

// PriorityLevel enumerates escalation priorities as produced by the QRT pass.
type PriorityLevel string

const (
	PriorityP1   PriorityLevel = "P1"
	PriorityP2   PriorityLevel = "P2"
	PriorityP3   PriorityLevel = "P3"
	PriorityP4   PriorityLevel = "P4"
	PriorityNone PriorityLevel = "None"
)

// Urgent reports whether the priority sits in the notification tier.
func (p PriorityLevel) Urgent() bool {
	return p == PriorityP1 || p == PriorityP2
}

// Finding is one entry of the analyzer's JSON report. Known fields are lifted
// into struct members; everything else the model emitted is preserved in Extra
// so provider-specific fields survive persistence.
type Finding struct {
	AnalysisReport string
	PriorityLevel  PriorityLevel
	Extra          map[string]any

	// Stamped by the pipeline before persistence; never set by the LLM.
	Timestamp time.Time
	ReportID  string
	LogSource string
}

// UnmarshalJSON lifts the well-known fields and keeps the remainder in Extra.
func (f *Finding) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Extra = make(map[string]any, len(raw))
	for key, value := range raw {
		switch key {
		case "analysis_report":
			if err := json.Unmarshal(value, &f.AnalysisReport); err != nil {
				return err
			}
		case "priority_level":
			if err := json.Unmarshal(value, &f.PriorityLevel); err != nil {
				return err
			}
		default:
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				return err
			}
			f.Extra[key] = v
		}
	}
	return nil
}

// MarshalJSON flattens Extra back alongside the lifted and stamped fields.
func (f Finding) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Extra)+5)
	for k, v := range f.Extra {
		out[k] = v
	}
	out["analysis_report"] = f.AnalysisReport
	out["priority_level"] = f.PriorityLevel
	if !f.Timestamp.IsZero() {
		out["timestamp"] = utils.UnixSeconds(f.Timestamp)
	}
	if f.ReportID != "" {
		out["report_id"] = f.ReportID
	}
	if f.LogSource != "" {
		out["log_src"] = f.LogSource
	}
	return json.Marshal(out)
}

// EscalationResult is the structured QRT response for a single finding.
type EscalationResult struct {
	PriorityLevel PriorityLevel
	ShortReport   string
	Extra         map[string]any

	// Filled in by the escalation stage before persistence.
	MDContent string
	Timestamp time.Time
	ReportID  string
	LogSource string
}

// UnmarshalJSON mirrors Finding: lift known fields, keep the rest.
func (e *EscalationResult) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Extra = make(map[string]any, len(raw))
	for key, value := range raw {
		switch key {
		case "priority_level":
			if err := json.Unmarshal(value, &e.PriorityLevel); err != nil {
				return err
			}
		case "short_report":
			if err := json.Unmarshal(value, &e.ShortReport); err != nil {
				return err
			}
		default:
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				return err
			}
			e.Extra[key] = v
		}
	}
	return nil
}

// MarshalJSON flattens Extra back alongside the lifted and stamped fields.
func (e EscalationResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+5)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["priority_level"] = e.PriorityLevel
	out["short_report"] = e.ShortReport
	if e.MDContent != "" {
		out["md_content"] = e.MDContent
	}
	if !e.Timestamp.IsZero() {
		out["timestamp"] = utils.UnixSeconds(e.Timestamp)
	}
	if e.ReportID != "" {
		out["report_id"] = e.ReportID
	}
	if e.LogSource != "" {
		out["log_src"] = e.LogSource
	}
	return json.Marshal(out)
}

// Document is one retrieved context entry from the vector store.
type Document struct {
	Content  string
	Metadata map[string]any
	Score    float64
}

// DeliveryResult records the outcome of one notification channel delivery.
type DeliveryResult struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}
