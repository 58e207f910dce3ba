package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Prompts holds the system prompts for the three LLM passes. Built-in
// defaults are used unless a prompt directory provides overrides.
type Prompts struct {
	Previewer string
	Analyzer  string
	QRT       string
}

const defaultPreviewerPrompt = `You are a security log previewer. Summarize the supplied log excerpt
concisely, preserving every security-relevant detail: source and destination
addresses, accounts, timestamps, event counts, and any indicator of
compromise. Output plain text only.`

const defaultAnalyzerPrompt = `You are a security log analyst. Using the reference criteria provided as
context, analyze the log summary and report every suspicious activity you
find. Respond with a JSON array only (no prose, no code fences). Each element
must contain at least "analysis_report" (a narrative of the issue in the
requested language) and "priority_level" (one of P1, P2, P3, P4 or None).
Return an empty array when nothing is worth reporting.`

const defaultQRTPrompt = `You are the quick response team coordinator. Using the standard operating
procedures provided as context, produce an actionable escalation for the
reported issue. Respond with a single JSON object only (no prose, no code
fences) containing at least "priority_level" (P1, P2, P3, P4 or None) and
"short_report" (a concise incident summary in the requested language with
concrete response steps).`

// LoadPrompts returns the built-in prompts, overridden by files from dir when
// present. A missing file keeps the default; an unreadable file is an error.
func LoadPrompts(dir string) (Prompts, error) {
	prompts := Prompts{
		Previewer: defaultPreviewerPrompt,
		Analyzer:  defaultAnalyzerPrompt,
		QRT:       defaultQRTPrompt,
	}
	if dir == "" {
		return prompts, nil
	}

	targets := map[string]*string{
		"log_previewer.txt": &prompts.Previewer,
		"log_analyzer.txt":  &prompts.Analyzer,
		"qrt.txt":           &prompts.QRT,
	}
	for name, target := range targets {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Prompts{}, fmt.Errorf("read prompt %s: %w", name, err)
		}
		if len(data) > 0 {
			*target = string(data)
		}
	}
	return prompts, nil
}
