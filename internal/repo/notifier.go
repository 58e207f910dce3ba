package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aegisstack/aegis-agent/internal/cache"
	"github.com/aegisstack/aegis-agent/internal/models"
)

// Suppression window for repeat notifications about the same report.
const notifyDedupTTL = 10 * time.Minute

// AlertNotifier delivers urgent escalation results to the alerting webhook.
type AlertNotifier struct {
	endpoint   string
	channels   []string
	httpClient *http.Client
	cache      cache.Provider
}

// NewAlertNotifier constructs a notifier. A nil cache provider disables
// duplicate suppression.
func NewAlertNotifier(endpoint string, channels []string, timeout time.Duration, cacheProvider cache.Provider) *AlertNotifier {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AlertNotifier{
		endpoint:   strings.TrimRight(endpoint, "/"),
		channels:   channels,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
	}
}

// Notify posts an urgent escalation to the alerting webhook. Repeat calls for
// the same report within the suppression window are skipped.
func (n *AlertNotifier) Notify(ctx context.Context, result models.EscalationResult) ([]models.DeliveryResult, error) {
	if n == nil || n.endpoint == "" {
		return nil, fmt.Errorf("notifier endpoint not configured")
	}

	if result.ReportID != "" {
		fresh, err := n.cache.SetNX(ctx, cache.NotifyKey(result.ReportID), []byte("1"), notifyDedupTTL)
		if err == nil && !fresh {
			return duplicateResults(n.channels), nil
		}
	}

	payload := map[string]interface{}{
		"priority_level":      string(result.PriorityLevel),
		"calling_departments": n.channels,
		"short_report":        result.ShortReport,
		"md_content":          result.MDContent,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("notification failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var response struct {
		Results []models.DeliveryResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err == nil && len(response.Results) > 0 {
		return response.Results, nil
	}

	return sentResults(n.channels), nil
}

func duplicateResults(channels []string) []models.DeliveryResult {
	results := make([]models.DeliveryResult, 0, len(channels))
	for _, ch := range channels {
		results = append(results, models.DeliveryResult{Channel: ch, Status: "duplicate"})
	}
	return results
}

func sentResults(channels []string) []models.DeliveryResult {
	results := make([]models.DeliveryResult, 0, len(channels))
	for _, ch := range channels {
		results = append(results, models.DeliveryResult{Channel: ch, Status: "sent"})
	}
	return results
}
