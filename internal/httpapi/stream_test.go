package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"netrank.org/internal/auth"
	"netrank.org/internal/stream"
)

func TestStreamDeliversPromotionEvents(t *testing.T) {
	ts, svc := newTestServer(t)
	svc.AddUser("R", nil)
	token := obtainToken(t, ts, "admin-1", auth.RoleAdmin)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/rank/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	// The subscription is live once the 200 arrives; now cause a promotion.
	mutate := doJSON(t, http.MethodPut, ts.URL+"/v1/rank/users/R/rank", token, map[string]any{"rank": 1})
	mutate.Body.Close()
	if mutate.StatusCode != http.StatusOK {
		t.Fatalf("manual set returned %d", mutate.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt stream.PromotionEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("bad event payload %q: %v", line, err)
		}
		if evt.UserID != "R" || evt.NewRank != 1 || !evt.Manual || !evt.BonusPaid {
			t.Fatalf("unexpected event: %+v", evt)
		}
		return
	}
	t.Fatalf("stream ended without an event: %v", scanner.Err())
}
