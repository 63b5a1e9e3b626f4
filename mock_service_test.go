package pushover

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	testEmail    = "user@example.com"
	testPassword = "hunter2"
	testSecret   = "sekrit"
	testDeviceID = "dev123"
)

// mockService simulates the Pushover API and realtime endpoint.
type mockService struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	logins      int
	loginStatus int // non-zero rejects logins with this HTTP status
	registered  []string
	downloads   int
	pending     []Notification
	acks        []string
	ackStatus   int // non-zero fails acknowledgments with this HTTP status
	frames      []string
	connects    int
	conn        *websocket.Conn

	// onConnect runs after the login frame of each realtime connection,
	// numbered from 1.
	onConnect func(n int)
}

func newMockService(t *testing.T) *mockService {
	t.Helper()
	m := &mockService{
		t:        t,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /1/users/login.json", m.handleLogin)
	mux.HandleFunc("POST /1/devices.json", m.handleRegister)
	mux.HandleFunc("GET /1/messages.json", m.handleDownload)
	mux.HandleFunc("POST /1/devices/{id}/update_highest_message.json", m.handleAck)
	mux.HandleFunc("/push", m.handlePush)

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.close)
	return m
}

func (m *mockService) apiURL() string {
	return m.server.URL + "/1/"
}

func (m *mockService) wsURL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/push"
}

func (m *mockService) close() {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.Unlock()
	m.server.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (m *mockService) handleLogin(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.logins++
	status := m.loginStatus
	m.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]any{"status": 0, "errors": []string{"invalid email or password"}})
		return
	}
	if r.PostFormValue("email") != testEmail || r.PostFormValue("password") != testPassword {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 0, "errors": []string{"bad credentials"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": 1, "secret": testSecret})
}

func (m *mockService) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.PostFormValue("secret") != testSecret || r.PostFormValue("os") != "O" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 0, "errors": map[string][]string{"os": {"is invalid"}}})
		return
	}
	m.mu.Lock()
	m.registered = append(m.registered, r.PostFormValue("name"))
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": 1, "id": testDeviceID})
}

func (m *mockService) handleDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("secret") != testSecret || q.Get("device_id") != testDeviceID {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 0, "errors": []string{"device not found"}})
		return
	}
	m.mu.Lock()
	m.downloads++
	msgs := append([]Notification{}, m.pending...)
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": 1, "messages": msgs})
}

func (m *mockService) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("id") != testDeviceID || r.PostFormValue("secret") != testSecret {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 0, "errors": []string{"device not found"}})
		return
	}
	upTo, err := strconv.ParseInt(r.PostFormValue("message"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 0, "errors": []string{"message is invalid"}})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ackStatus != 0 {
		writeJSON(w, m.ackStatus, map[string]any{"status": 0, "errors": []string{"try again"}})
		return
	}
	m.acks = append(m.acks, r.PostFormValue("message"))
	kept := m.pending[:0]
	for _, n := range m.pending {
		if n.ID > upTo {
			kept = append(kept, n)
		}
	}
	m.pending = kept
	writeJSON(w, http.StatusOK, map[string]any{"status": 1})
}

func (m *mockService) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}

	m.mu.Lock()
	m.conn = conn
	m.connects++
	n := m.connects
	m.frames = append(m.frames, string(data))
	hook := m.onConnect
	m.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m.mu.Lock()
		m.frames = append(m.frames, string(data))
		m.mu.Unlock()
	}
}

// send writes a frame to the current realtime connection.
func (m *mockService) send(frame string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}
}

// hangUp closes the current realtime connection with a normal close frame.
func (m *mockService) hangUp() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = m.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		m.conn.Close()
	}
}

func (m *mockService) setPending(batch ...Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append([]Notification{}, batch...)
}

func (m *mockService) getAcks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.acks...)
}

func (m *mockService) getFrames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.frames...)
}

func (m *mockService) loginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

// failureLog collects reported failures.
type failureLog struct {
	mu   sync.Mutex
	list []*Failure
}

func (l *failureLog) handle(f *Failure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, f)
}

func (l *failureLog) all() []*Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Failure{}, l.list...)
}

func (l *failureLog) kinds() []ErrorKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorKind, 0, len(l.list))
	for _, f := range l.list {
		out = append(out, f.Kind)
	}
	return out
}

// fakeRunner records command invocations instead of running processes.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	output []byte
	err    error
	// fail makes invocations whose first argument matches return err.
	fail map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	if len(args) > 0 {
		if err, ok := r.fail[args[0]]; ok {
			return nil, err
		}
	}
	return r.output, r.err
}

func (r *fakeRunner) invocations() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string{}, r.calls...)
}

func notification(id int64, title, body string) Notification {
	return Notification{ID: id, UMID: id + 1000, Title: title, Body: body, App: "Pushover", Date: 1700000000 + id}
}

func testAPI(m *mockService) *apiClient {
	return newAPIClient(m.apiURL(), m.server.Client())
}

func testCreds() Credentials {
	return Credentials{Secret: testSecret, DeviceID: testDeviceID}
}

func testConfig(m *mockService) Config {
	return Config{
		Email:        testEmail,
		Password:     testPassword,
		CommandPath:  "/usr/local/bin/heyu",
		DeviceID:     testDeviceID,
		APIBaseURL:   m.apiURL(),
		RealtimeURL:  m.wsURL(),
		RestartDelay: 10 * time.Millisecond,
	}
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}
