package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evanhsu/nlsh/internal/engine"
	"github.com/evanhsu/nlsh/internal/generate"
	"github.com/evanhsu/nlsh/internal/hostinfo"
	"github.com/evanhsu/nlsh/internal/intent"
	"github.com/evanhsu/nlsh/internal/interpreter"
	"github.com/evanhsu/nlsh/internal/storage"
)

const testToken = "test-token"

// fakeEngine returns a canned completion.
type fakeEngine struct {
	response string
	err      error
	running  bool
}

func (f *fakeEngine) Complete(ctx context.Context, model, system, prompt string, s *engine.Schema) (string, error) {
	return f.response, f.err
}
func (f *fakeEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEngine) IsRunning(ctx context.Context) bool               { return f.running }
func (f *fakeEngine) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeEngine) HasModel(ctx context.Context, name string) bool   { return true }
func (f *fakeEngine) PullModel(ctx context.Context, name string, cb func(engine.PullProgress)) error {
	return nil
}

var testHost = hostinfo.Profile{
	OSFamily:       "linux",
	DistroID:       "fedora",
	PackageManager: "dnf",
	Confidence:     hostinfo.ConfidenceHigh,
}

func newTestApp(t *testing.T, eng engine.Engine) (http.Handler, *storage.Store) {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	gen := generate.New(eng, generate.Options{
		Model:   "test-model",
		Host:    testHost,
		Timeout: time.Second,
	})
	interp := interpreter.New(intent.NewRuleClassifier(), gen, st, false)

	h := NewAppHandler(AppDeps{
		Interpreter: interp,
		Store:       st,
		Host:        testHost,
		Token:       testToken,
		Engine:      eng,
	})
	return h, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling request body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestApp(t, &fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/interactions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/interactions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	h, _ := newTestApp(t, &fakeEngine{running: true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	resp := decodeBody[map[string]string](t, w)
	if resp["status"] != "ok" || resp["model_backend"] != "up" {
		t.Errorf("health = %v", resp)
	}
}

func TestHealthBackendDown(t *testing.T) {
	h, _ := newTestApp(t, &fakeEngine{running: false})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp := decodeBody[map[string]string](t, w)
	if resp["status"] != "ok" || resp["model_backend"] != "down" {
		t.Errorf("health = %v", resp)
	}
}

func TestInterpret(t *testing.T) {
	eng := &fakeEngine{response: `{"candidates":[{"command":"df -h","confidence":0.9}]}`}
	h, st := newTestApp(t, eng)

	w := doJSON(t, h, http.MethodPost, "/interpret", InterpretRequest{
		Prompt:    "how much disk space is left",
		Cwd:       "/home/user",
		SessionID: "s1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	resp := decodeBody[InterpretResponse](t, w)
	if resp.RecordID == "" {
		t.Error("no record_id in response")
	}
	if len(resp.Candidates) != 1 || resp.Candidates[0].Command != "df -h" {
		t.Errorf("candidates = %+v", resp.Candidates)
	}

	if _, err := st.Get(resp.RecordID); err != nil {
		t.Errorf("record not persisted: %v", err)
	}
}

func TestInterpretEmptyPrompt(t *testing.T) {
	h, _ := newTestApp(t, &fakeEngine{})

	w := doJSON(t, h, http.MethodPost, "/interpret", InterpretRequest{Prompt: "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestFeedbackFlow(t *testing.T) {
	eng := &fakeEngine{response: `{"candidates":[{"command":"df -h","confidence":0.9}]}`}
	h, _ := newTestApp(t, eng)

	w := doJSON(t, h, http.MethodPost, "/interpret", InterpretRequest{Prompt: "disk space", SessionID: "s1"})
	resp := decodeBody[InterpretResponse](t, w)

	code := int64(0)
	w = doJSON(t, h, http.MethodPost, "/interactions/"+resp.RecordID+"/feedback", FeedbackRequest{
		Feedback:        "accepted",
		SelectedCommand: "df -h",
		ExecutedCommand: "df -h",
		ExitCode:        &code,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("feedback status = %d, body %s", w.Code, w.Body.String())
	}

	// Feedback is one-way; a second report conflicts.
	w = doJSON(t, h, http.MethodPost, "/interactions/"+resp.RecordID+"/feedback", FeedbackRequest{Feedback: "rejected"})
	if w.Code != http.StatusConflict {
		t.Errorf("second feedback status = %d, want 409", w.Code)
	}
}

func TestFeedbackUnknownRecord(t *testing.T) {
	h, _ := newTestApp(t, &fakeEngine{})

	w := doJSON(t, h, http.MethodPost, "/interactions/no-such-id/feedback", FeedbackRequest{Feedback: "accepted"})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestFeedbackInvalidValue(t *testing.T) {
	h, _ := newTestApp(t, &fakeEngine{})

	w := doJSON(t, h, http.MethodPost, "/interactions/x/feedback", FeedbackRequest{Feedback: "maybe"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListAndGetInteractions(t *testing.T) {
	eng := &fakeEngine{response: `{"candidates":[{"command":"df -h","confidence":0.9}]}`}
	h, _ := newTestApp(t, eng)

	for n := 0; n < 3; n++ {
		w := doJSON(t, h, http.MethodPost, "/interpret", InterpretRequest{
			Prompt:    fmt.Sprintf("disk space %d", n),
			SessionID: "s1",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("interpret %d: %d", n, w.Code)
		}
	}

	w := doJSON(t, h, http.MethodGet, "/interactions?session_id=s1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	list := decodeBody[[]storage.Interaction](t, w)
	if len(list) != 3 {
		t.Fatalf("listed %d interactions, want 3", len(list))
	}

	w = doJSON(t, h, http.MethodGet, "/interactions/"+list[0].ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decodeBody[storage.Interaction](t, w)
	if got.ID != list[0].ID {
		t.Errorf("got id %s, want %s", got.ID, list[0].ID)
	}

	w = doJSON(t, h, http.MethodGet, "/interactions/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", w.Code)
	}
}

func TestListInvalidFilter(t *testing.T) {
	h, _ := newTestApp(t, &fakeEngine{})

	w := doJSON(t, h, http.MethodGet, "/interactions?since=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/interactions?feedback=maybe", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestExportNDJSON(t *testing.T) {
	eng := &fakeEngine{response: `{"candidates":[{"command":"df -h","confidence":0.9}]}`}
	h, _ := newTestApp(t, eng)

	var ids []string
	for n := 0; n < 3; n++ {
		w := doJSON(t, h, http.MethodPost, "/interpret", InterpretRequest{Prompt: "disk space", SessionID: "s1"})
		ids = append(ids, decodeBody[InterpretResponse](t, w).RecordID)
	}

	// Accept one, reject one, leave one pending.
	doJSON(t, h, http.MethodPost, "/interactions/"+ids[0]+"/feedback", FeedbackRequest{
		Feedback:        "accepted",
		SelectedCommand: "df -h",
	})
	doJSON(t, h, http.MethodPost, "/interactions/"+ids[1]+"/feedback", FeedbackRequest{Feedback: "rejected"})

	w := doJSON(t, h, http.MethodPost, "/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	var lines []string
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			lines = append(lines, sc.Text())
		}
	}
	if len(lines) != 1 {
		t.Fatalf("exported %d lines, want exactly 1 (accepted only)", len(lines))
	}

	var ex storage.TrainingExample
	if err := json.Unmarshal([]byte(lines[0]), &ex); err != nil {
		t.Fatalf("invalid NDJSON line %q: %v", lines[0], err)
	}
	if ex.Prompt != "disk space" || ex.Completion != "df -h" {
		t.Errorf("example = %+v", ex)
	}
}

func TestPurge(t *testing.T) {
	h, st := newTestApp(t, &fakeEngine{})

	old := storage.Interaction{
		ID:        "old",
		CreatedAt: float64(time.Now().AddDate(0, 0, -30).UnixNano()) / 1e9,
		Prompt:    "old prompt",
		Feedback:  storage.FeedbackPending,
		SessionID: "s1",
	}
	if err := st.Insert(old); err != nil {
		t.Fatal(err)
	}

	// Purge without a cutoff must be refused.
	w := doJSON(t, h, http.MethodPost, "/purge", PurgeRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero purge status = %d, want 400", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/purge", PurgeRequest{OlderThanDays: 7})
	if w.Code != http.StatusOK {
		t.Fatalf("purge status = %d", w.Code)
	}
	resp := decodeBody[map[string]int64](t, w)
	if resp["deleted_count"] != 1 {
		t.Errorf("deleted_count = %d, want 1", resp["deleted_count"])
	}
}

func TestHostinfo(t *testing.T) {
	h, _ := newTestApp(t, &fakeEngine{})

	w := doJSON(t, h, http.MethodGet, "/hostinfo", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decodeBody[hostinfo.Profile](t, w)
	if got.PackageManager != "dnf" || got.DistroID != "fedora" {
		t.Errorf("hostinfo = %+v", got)
	}
}
