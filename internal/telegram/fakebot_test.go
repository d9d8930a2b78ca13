package telegram

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"
)

type botCall struct {
	Method string
	Body   map[string]any
}

// fakeBot - Bot API в памяти
type fakeBot struct {
	mu      sync.Mutex
	calls   []botCall
	nextID  int64
	updates [][]Update
}

func newFakeBot(t *testing.T) (*fakeBot, API) {
	t.Helper()
	f := &fakeBot{nextID: 100}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, NewAPI(srv.URL, "TEST:TOKEN")
}

func (f *fakeBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	body := map[string]any{}
	json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, botCall{Method: method, Body: body})
	var result any = true
	switch method {
	case "sendMessage":
		f.nextID++
		result = Message{MessageID: f.nextID, Chat: Chat{ID: int64(body["chat_id"].(float64))}}
	case "getUpdates":
		batch := []Update{}
		if len(f.updates) > 0 {
			batch = f.updates[0]
			f.updates = f.updates[1:]
		}
		result = batch
	}
	f.mu.Unlock()

	if method == "getUpdates" {
		time.Sleep(10 * time.Millisecond)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (f *fakeBot) callsOf(method string) []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []botCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBot) queue(updates ...Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates)
}

func (c botCall) text() string {
	s, _ := c.Body["text"].(string)
	return s
}

// buttons возвращает callback_data кнопок в порядке отображения
func (c botCall) buttons() []string {
	markup, ok := c.Body["reply_markup"].(map[string]any)
	if !ok {
		return nil
	}
	rows, _ := markup["inline_keyboard"].([]any)
	out := []string{}
	for _, row := range rows {
		for _, button := range row.([]any) {
			out = append(out, button.(map[string]any)["callback_data"].(string))
		}
	}
	return out
}
