package telegram

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const testToken = "123:abc"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

// apiCall is one request received by fakeAPI.
type apiCall struct {
	Method      string
	ContentType string
	Body        []byte
}

// fakeAPI is an in-memory Bot API. Methods without a handler answer with
// an empty successful result.
type fakeAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	calls    []apiCall
	handlers map[string]func(w http.ResponseWriter, body []byte)
	files    map[string][]byte
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		t:        t,
		handlers: make(map[string]func(http.ResponseWriter, []byte)),
		files:    make(map[string][]byte),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if path, ok := strings.CutPrefix(r.URL.Path, "/file/bot"+testToken+"/"); ok {
		f.mu.Lock()
		data, found := f.files[path]
		f.mu.Unlock()
		if !found {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
		return
	}

	method, ok := strings.CutPrefix(r.URL.Path, "/bot"+testToken+"/")
	if !ok {
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, ContentType: r.Header.Get("Content-Type"), Body: body})
	h := f.handlers[method]
	f.mu.Unlock()

	if h != nil {
		h(w, body)
		return
	}
	switch method {
	case "setWebhook", "deleteWebhook", "answerCallbackQuery":
		writeJSON(f.t, w, APIResponse[bool]{OK: true, Result: true})
	case "getUpdates":
		writeJSON(f.t, w, APIResponse[[]Update]{OK: true, Result: []Update{}})
	case "getMe":
		writeJSON(f.t, w, APIResponse[User]{OK: true, Result: User{ID: 1, IsBot: true, FirstName: "Relay", Username: "relay_bot"}})
	default:
		writeJSON(f.t, w, APIResponse[Message]{OK: true, Result: Message{MessageID: 1}})
	}
}

func (f *fakeAPI) handle(method string, h func(w http.ResponseWriter, body []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeAPI) addFile(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
}

// callsTo returns the requests received for method.
func (f *fakeAPI) callsTo(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAPI) client() *Client {
	return NewClient(testToken, f.srv.URL)
}

// newTestTelegram returns a provisioned module wired to api.
func newTestTelegram(api *fakeAPI) *Telegram {
	tg := &Telegram{
		config: Config{Token: testToken, APIURL: api.srv.URL},
		logger: discardLogger(),
	}
	tg.config.defaults()
	tg.client = api.client()
	return tg
}

func decodeBody[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return v
}
