package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rawcontext/engram-sub009/internal/ingest"
)

type fakeGraph struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (f *fakeGraph) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.Contains(cypher, f.failOn) {
		return nil, errors.New("graph write failed")
	}
	f.calls = append(f.calls, cypher)
	return nil, nil
}

func (f *fakeGraph) countMatching(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T, g *fakeGraph) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg, err := ingest.NewAggregator(ingest.AggregatorOptions{
		DefaultGraph: g,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	h := NewIngestHandler(agg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/sessions/{id}/events", h.PostEvent)
	mux.HandleFunc("POST /api/sessions/{id}/events/batch", h.PostEventBatch)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.DeleteSession)
	mux.HandleFunc("POST /api/admin/reap", h.Reap)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIngestHandler_PostEvent(t *testing.T) {
	t.Run("accepts a user event and persists the turn", func(t *testing.T) {
		g := &fakeGraph{}
		srv := newTestServer(t, g)

		resp := post(t, srv.URL+"/api/sessions/s1/events",
			`{"type":"content","role":"user","content":"hello"}`)

		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, expected 202", resp.StatusCode)
		}
		if g.countMatching("CREATE (t:Turn") != 1 {
			t.Error("expected one turn create")
		}
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		g := &fakeGraph{}
		srv := newTestServer(t, g)

		resp := post(t, srv.URL+"/api/sessions/s1/events", `{"type":`)

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, expected 400", resp.StatusCode)
		}
		if resp.Header.Get("Content-Type") != "application/problem+json" {
			t.Errorf("content type = %q, expected problem+json", resp.Header.Get("Content-Type"))
		}
	})

	t.Run("persistence failure maps to 500", func(t *testing.T) {
		g := &fakeGraph{failOn: "CREATE (t:Turn"}
		srv := newTestServer(t, g)

		resp := post(t, srv.URL+"/api/sessions/s1/events",
			`{"type":"content","role":"user","content":"hello"}`)

		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("status = %d, expected 500", resp.StatusCode)
		}
	})
}

func TestIngestHandler_PostEventBatch(t *testing.T) {
	t.Run("processes an ordered batch end to end", func(t *testing.T) {
		g := &fakeGraph{}
		srv := newTestServer(t, g)

		body := `{"events":[
			{"type":"content","role":"user","content":"fix it"},
			{"type":"thought","role":"assistant","content":"look at main"},
			{"type":"tool_call","role":"assistant","tool_call":{"id":"c1","name":"Read","partial_args":"{\"file_path\":\"main.go\"}"}},
			{"type":"usage","usage":{"input_tokens":10,"output_tokens":5}}
		]}`
		resp := post(t, srv.URL+"/api/sessions/s1/events/batch", body)

		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, expected 202", resp.StatusCode)
		}
		raw, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(raw), `"accepted":4`) {
			t.Errorf("body = %s, expected accepted:4", raw)
		}
		if g.countMatching("TRIGGERS") != 1 {
			t.Error("expected one TRIGGERS link from the batch")
		}
		if g.countMatching("$tool_calls_count") != 1 {
			t.Error("expected the batch to finalize the turn")
		}
	})

	t.Run("stops at the first failure and reports progress", func(t *testing.T) {
		g := &fakeGraph{failOn: "CONTAINS"}
		srv := newTestServer(t, g)

		body := `{"events":[
			{"type":"content","role":"user","content":"fix it"},
			{"type":"thought","role":"assistant","content":"doomed write"},
			{"type":"content","role":"assistant","content":"never processed"}
		]}`
		resp := post(t, srv.URL+"/api/sessions/s1/events/batch", body)

		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("status = %d, expected 500", resp.StatusCode)
		}
		raw, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(raw), `"accepted":1`) {
			t.Errorf("body = %s, expected accepted:1", raw)
		}
	})

	t.Run("rejects an empty batch", func(t *testing.T) {
		g := &fakeGraph{}
		srv := newTestServer(t, g)

		resp := post(t, srv.URL+"/api/sessions/s1/events/batch", `{"events":[]}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, expected 400", resp.StatusCode)
		}
	})

	t.Run("rejects an oversized batch", func(t *testing.T) {
		g := &fakeGraph{}
		srv := newTestServer(t, g)

		var body strings.Builder
		body.WriteString(`{"events":[`)
		for i := 0; i < 1001; i++ {
			if i > 0 {
				body.WriteString(",")
			}
			body.WriteString(`{"type":"content","role":"assistant","content":"x"}`)
		}
		body.WriteString(`]}`)

		resp := post(t, srv.URL+"/api/sessions/s1/events/batch", body.String())
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, expected 400", resp.StatusCode)
		}
		if len(g.calls) != 0 {
			t.Errorf("oversized batch must not reach the graph, got %d writes", len(g.calls))
		}
	})
}

func TestIngestHandler_DeleteSession(t *testing.T) {
	g := &fakeGraph{}
	srv := newTestServer(t, g)

	post(t, srv.URL+"/api/sessions/s1/events",
		`{"type":"content","role":"user","content":"hello"}`)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/s1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, expected 204", resp.StatusCode)
	}

	// The session restarts from sequence zero: the new turn links no NEXT edge.
	post(t, srv.URL+"/api/sessions/s1/events",
		`{"type":"content","role":"user","content":"again"}`)
	if g.countMatching("[:NEXT]") != 0 {
		t.Error("cleared session must not link NEXT to pre-clear turns")
	}
}

func TestIngestHandler_Reap(t *testing.T) {
	g := &fakeGraph{}
	srv := newTestServer(t, g)

	resp := post(t, srv.URL+"/api/admin/reap", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, expected 200", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `"reaped":0`) {
		t.Errorf("body = %s, expected reaped:0", raw)
	}
}

func TestIngestHandler_HealthCheck(t *testing.T) {
	g := &fakeGraph{}
	srv := newTestServer(t, g)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, expected 200", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `"status":"ok"`) {
		t.Errorf("body = %s, expected ok status", raw)
	}
}

func TestIngestHandler_ConcurrentSessions(t *testing.T) {
	g := &fakeGraph{}
	srv := newTestServer(t, g)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			url := srv.URL + "/api/sessions/s" + fmt.Sprint(n) + "/events"
			resp, err := http.Post(url, "application/json",
				strings.NewReader(`{"type":"content","role":"user","content":"go"}`))
			if err != nil {
				t.Errorf("POST: %v", err)
				return
			}
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	if g.countMatching("CREATE (t:Turn") != 8 {
		t.Errorf("turn creates = %d, expected 8", g.countMatching("CREATE (t:Turn"))
	}
}
