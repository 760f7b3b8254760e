package stash

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	headerCache = "X-Stash-Cache"

	markerHit   = "hit"
	markerStale = "stale"
)

// offlinePayload is the synthetic JSON body returned when neither
// network nor cache can satisfy a request. Consumers must branch on
// OfflineMode/Queued instead of treating it as authoritative data.
type offlinePayload struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	OfflineMode bool   `json:"offline_mode"`
	Queued      bool   `json:"queued,omitempty"`
	CachedData  any    `json:"cached_data,omitempty"`
}

// defaultFallbacks mirrors the reference datasets the SmartEats backend
// serves, so core screens stay useful with no connectivity at all.
func defaultFallbacks() map[string]any {
	return map[string]any{
		"/api/nutrition": map[string]any{
			"foods": []map[string]any{
				{"name": "rice (1 cup)", "calories": 205, "protein_g": 4.3, "carbs_g": 45, "fat_g": 0.4},
				{"name": "chicken breast (100g)", "calories": 165, "protein_g": 31, "carbs_g": 0, "fat_g": 3.6},
				{"name": "egg (1 large)", "calories": 78, "protein_g": 6.3, "carbs_g": 0.6, "fat_g": 5.3},
				{"name": "banana (1 medium)", "calories": 105, "protein_g": 1.3, "carbs_g": 27, "fat_g": 0.4},
				{"name": "lentils (1 cup)", "calories": 230, "protein_g": 18, "carbs_g": 40, "fat_g": 0.8},
			},
		},
		"/api/community/leaderboard": map[string]any{
			"leaderboard": []map[string]any{
				{"rank": 1, "name": "HealthyHero", "points": 2840},
				{"rank": 2, "name": "MealMaster", "points": 2615},
				{"rank": 3, "name": "NutriNinja", "points": 2390},
			},
		},
		"/api/challenges/weekly": map[string]any{
			"challenges": []map[string]any{
				{"title": "Log every meal for 7 days", "points": 100},
				{"title": "Hit your protein goal 5 times", "points": 75},
				{"title": "Drink 2L of water daily", "points": 50},
			},
		},
		"/api/chat": map[string]any{
			"reply": "I'm offline right now, but your question is worth asking again once you reconnect.",
		},
	}
}

// fallbackFor picks the dataset registered for the longest matching
// path substring; the generic dataset covers everything else so a
// synthetic payload always carries non-null cached_data.
func (s *Stash) fallbackFor(path string) any {
	best := ""
	var data any
	for substr, d := range s.cfg.Offline.Fallbacks {
		if strings.Contains(path, substr) && len(substr) > len(best) {
			best, data = substr, d
		}
	}
	if best != "" {
		return data
	}
	return map[string]any{"note": "no offline data available for this endpoint"}
}

// syntheticJSON fabricates a JSON response locally.
func (s *Stash) syntheticJSON(req *http.Request, status int, payload offlinePayload) *http.Response {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode offline payload", zap.Error(err))
		body = []byte(`{"success":false,"message":"offline","offline_mode":true}`)
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(headerCache, markerStale)
	return syntheticResponse(req, status, header, body)
}

// syntheticHTML fabricates an HTML response locally, used for the
// static offline page.
func syntheticHTML(req *http.Request, status int, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set(headerCache, markerStale)
	return syntheticResponse(req, status, header, []byte(body))
}

func syntheticResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// offlinePageHTML is the last-resort navigation fallback when neither
// the cache nor the app shell is available.
const offlinePageHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>SmartEats — Offline</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;height:100vh;margin:0;background:#f4f7f4;color:#2d3a2d}
main{text-align:center;max-width:26rem;padding:2rem}
h1{font-size:1.5rem}
</style>
</head>
<body>
<main>
<h1>You're offline</h1>
<p>SmartEats can't reach the network. Logged meals are saved locally and will sync once you're back online.</p>
</main>
</body>
</html>
`
