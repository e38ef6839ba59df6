package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"github.com/vampirenirmal/quire/internal/config"
	"github.com/vampirenirmal/quire/internal/session"
	"github.com/vampirenirmal/quire/internal/storage"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

const innStory = `---
title: The Inn
---
# Hall

Name {{input "string" who="stranger"}}

{{#nav "Cellar"}}Go down{{/nav}}

# Cellar

Bye {{who}}.
`

const counterStory = `# Count

{{input "number" n=1}}

{{#nav null}}Stop{{/nav}}
`

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mutate func(*config.ServerConfig), opts ...Option) (*Server, *storage.FileSystem) {
	t.Helper()
	fs := storage.NewFileSystem(t.TempDir())
	lib := storage.NewLibrary(fs)
	for name, text := range map[string]string{"inn": innStory, "counter": counterStory} {
		if _, err := lib.Write(context.Background(), name, text); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.DefaultServer()
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg, lib, opts...)
	t.Cleanup(s.Close)
	return s, fs
}

func do(t *testing.T, s *Server, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func begin(t *testing.T, s *Server, name string, form url.Values) string {
	t.Helper()
	if form == nil {
		form = url.Values{}
	}
	w := do(t, s, http.MethodPost, "/stories/"+name+"/sessions", form)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("start status = %d, body %s", w.Code, w.Body.String())
	}
	return strings.TrimPrefix(w.Header().Get("Location"), "/sessions/")
}

func state(t *testing.T, s *Server, id string) stateResponse {
	t.Helper()
	w := do(t, s, http.MethodGet, "/api/sessions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("state status = %d, body %s", w.Code, w.Body.String())
	}
	var resp stateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestListStories(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/stories", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Stories []string `json:"stories"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"counter", "inn"}, resp.Stories); diff != "" {
		t.Errorf("stories mismatch (-want +got):\n%s", diff)
	}

	w = do(t, s, http.MethodGet, "/", nil)
	if !strings.Contains(w.Body.String(), `action="/stories/inn/sessions"`) {
		t.Errorf("index page missing story form:\n%s", w.Body.String())
	}
}

func TestPlaySession(t *testing.T) {
	s, _ := newTestServer(t, nil)
	id := begin(t, s, "inn", nil)

	w := do(t, s, http.MethodGet, "/sessions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("show status = %d", w.Code)
	}
	page := w.Body.String()
	for _, want := range []string{"<title>The Inn</title>", `action="/sessions/` + id + `"`, `name="who"`, `name="@target"`, `value="Cellar"`} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q:\n%s", want, page)
		}
	}

	st := state(t, s, id)
	if st.Chapter != "Hall" || st.Ended || len(st.Inputs) != 1 || len(st.Navs) != 1 {
		t.Fatalf("state = %+v", st)
	}

	w = do(t, s, http.MethodPost, "/sessions/"+id, url.Values{"who": {"Ann"}, "@target": {"Cellar"}})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("reply status = %d, body %s", w.Code, w.Body.String())
	}

	st = state(t, s, id)
	if st.Chapter != "Cellar" || !strings.Contains(st.Text, "Bye Ann.") {
		t.Fatalf("state after reply = %+v", st)
	}

	if w := do(t, s, http.MethodPost, "/sessions/"+id, url.Values{}); w.Code != http.StatusSeeOther {
		t.Fatalf("final reply status = %d", w.Code)
	}
	st = state(t, s, id)
	if !st.Ended || st.Error != "" {
		t.Fatalf("state after end = %+v", st)
	}
	if diff := cmp.Diff(value.Scope{"who": value.String("Ann")}, st.Globals); diff != "" {
		t.Errorf("globals mismatch (-want +got):\n%s", diff)
	}

	if w := do(t, s, http.MethodGet, "/sessions/"+id, nil); !strings.Contains(w.Body.String(), "The end.") {
		t.Errorf("ended page = %s", w.Body.String())
	}
	if w := do(t, s, http.MethodPost, "/sessions/"+id, url.Values{}); w.Code != http.StatusConflict {
		t.Errorf("reply after end status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestInvalidInputKeepsTurn(t *testing.T) {
	s, _ := newTestServer(t, nil)
	id := begin(t, s, "counter", nil)

	w := do(t, s, http.MethodPost, "/sessions/"+id, url.Values{"n": {"many"}})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if !strings.Contains(w.Body.String(), `role="alert"`) {
		t.Errorf("page missing error:\n%s", w.Body.String())
	}
	if st := state(t, s, id); st.Chapter != "Count" || st.Ended {
		t.Fatalf("state = %+v, want the same turn", st)
	}

	if w := do(t, s, http.MethodPost, "/sessions/"+id, url.Values{"n": {"4"}}); w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", w.Code)
	}
	st := state(t, s, id)
	if !st.Ended {
		t.Fatalf("state = %+v, want ended", st)
	}
	if diff := cmp.Diff(value.Scope{"n": value.Number(4)}, st.Globals); diff != "" {
		t.Errorf("globals mismatch (-want +got):\n%s", diff)
	}
}

func TestStartErrors(t *testing.T) {
	s, fs := newTestServer(t, nil)
	if err := fs.Save(context.Background(), "broken.md", []byte("# A\n\n# A\n")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown story", "/stories/missing/sessions", http.StatusNotFound},
		{"invalid name", "/stories/Bad%20Name/sessions", http.StatusNotFound},
		{"parse error", "/stories/broken/sessions", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, s, http.MethodPost, tt.path, url.Values{}); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if w := do(t, s, http.MethodGet, "/sessions/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d", w.Code)
	}
}

func TestStopSession(t *testing.T) {
	s, _ := newTestServer(t, nil)
	id := begin(t, s, "inn", nil)

	if w := do(t, s, http.MethodDelete, "/sessions/"+id, nil); w.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/sessions/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("state after stop = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.RateLimit.RequestsPerMinute = 1
		cfg.RateLimit.BurstSize = 1
	})

	if w := do(t, s, http.MethodPost, "/stories/missing/sessions", url.Values{}); w.Code != http.StatusNotFound {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/stories/missing/sessions", url.Values{}); w.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w := do(t, s, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d", w.Code)
	}
}

func TestResumeFromCheckpoint(t *testing.T) {
	s, fs := newTestServer(t, nil)
	cm := session.NewCheckpointManager(fs)
	s.checkpoints = cm

	id := begin(t, s, "inn", nil)
	if w := do(t, s, http.MethodPost, "/sessions/"+id, url.Values{"who": {"Bo"}, "@target": {"Cellar"}}); w.Code != http.StatusSeeOther {
		t.Fatalf("reply status = %d", w.Code)
	}

	w := do(t, s, http.MethodGet, "/api/checkpoints", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"story":"inn"`) {
		t.Fatalf("checkpoints = %d %s", w.Code, w.Body.String())
	}

	resumed := begin(t, s, "inn", url.Values{"resume": {id}})
	if resumed != id {
		t.Errorf("resumed session id = %q, want %q", resumed, id)
	}
	st := state(t, s, id)
	if st.Chapter != "Cellar" || !strings.Contains(st.Text, "Bye Bo.") {
		t.Errorf("resumed state = %+v", st)
	}

	record, err := cm.Load(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if record.ResumeCount != 1 {
		t.Errorf("ResumeCount = %d, want 1", record.ResumeCount)
	}

	if w := do(t, s, http.MethodPost, "/stories/counter/sessions", url.Values{"resume": {id}}); w.Code != http.StatusBadRequest {
		t.Errorf("resume into another story status = %d", w.Code)
	}
}
