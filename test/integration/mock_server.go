package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/cooldialog/model"
)

// MockServer simulates a COOL server. Each action (Event, Get, Start and so
// on) answers from its own queue of replies and every request is recorded.
type MockServer struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	replies  map[model.RequestType]*replyQueue
	fallback *mockReply
	received []*RecordedRequest
}

// RecordedRequest is one round trip seen by the mock server.
type RecordedRequest struct {
	Action  model.RequestType
	Headers http.Header
	Body    model.Request
}

type replyQueue struct {
	replies []*mockReply
	current int
}

type mockReply struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
}

func newMockServer(t *testing.T) *MockServer {
	t.Helper()

	ms := &MockServer{
		t:       t,
		replies: make(map[model.RequestType]*replyQueue),
	}

	r := chi.NewRouter()
	r.Head("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/{action}", ms.handle)

	ms.server = httptest.NewServer(r)
	t.Cleanup(ms.server.Close)
	return ms
}

// URL returns the base URL of the mock server.
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// On returns a builder for the replies to action.
func (ms *MockServer) On(action model.RequestType) *ActionMock {
	return &ActionMock{server: ms, action: action}
}

// OnAny sets the reply for actions without a queue of their own.
func (ms *MockServer) OnAny(resp *model.Response) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.fallback = &mockReply{status: http.StatusOK, body: resp}
}

// ActionMock queues replies for one action. The last reply repeats once
// the queue is drained.
type ActionMock struct {
	server *MockServer
	action model.RequestType
}

// Respond queues a successful answer.
func (am *ActionMock) Respond(resp *model.Response) *ActionMock {
	return am.add(&mockReply{status: http.StatusOK, body: resp})
}

// RespondWithError queues a server exception.
func (am *ActionMock) RespondWithError(status int, errorID, message string) *ActionMock {
	return am.add(&mockReply{
		status: status,
		body: model.ClientError{
			ErrorID:          errorID,
			ExceptionType:    "ServerException",
			ExceptionMessage: message,
		},
	})
}

// RespondWithDelay queues an answer sent after delay.
func (am *ActionMock) RespondWithDelay(delay time.Duration, resp *model.Response) *ActionMock {
	return am.add(&mockReply{status: http.StatusOK, body: resp, delay: delay})
}

// RespondWithConnectionError queues a dropped connection.
func (am *ActionMock) RespondWithConnectionError() *ActionMock {
	return am.add(&mockReply{connError: true})
}

func (am *ActionMock) add(reply *mockReply) *ActionMock {
	ms := am.server
	ms.mu.Lock()
	defer ms.mu.Unlock()
	q, ok := ms.replies[am.action]
	if !ok {
		q = &replyQueue{}
		ms.replies[am.action] = q
	}
	q.replies = append(q.replies, reply)
	return am
}

func (ms *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	action := model.RequestType(chi.URLParam(r, "action"))
	rec := &RecordedRequest{Action: action, Headers: r.Header.Clone()}
	if err := json.NewDecoder(r.Body).Decode(&rec.Body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ms.mu.Lock()
	ms.received = append(ms.received, rec)
	reply := ms.nextReply(action)
	ms.mu.Unlock()

	if reply == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if reply.connError {
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			if conn != nil {
				conn.Close()
			}
		}
		return
	}

	if reply.delay > 0 {
		select {
		case <-time.After(reply.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.status)
	if reply.body != nil {
		json.NewEncoder(w).Encode(reply.body)
	}
}

// nextReply must be called with mu held.
func (ms *MockServer) nextReply(action model.RequestType) *mockReply {
	q, ok := ms.replies[action]
	if !ok || len(q.replies) == 0 {
		return ms.fallback
	}
	idx := q.current
	if idx >= len(q.replies) {
		idx = len(q.replies) - 1
	} else {
		q.current++
	}
	return q.replies[idx]
}

// Requests returns every recorded request in arrival order.
func (ms *MockServer) Requests() []*RecordedRequest {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]*RecordedRequest(nil), ms.received...)
}

// RequestsFor returns the recorded requests for action.
func (ms *MockServer) RequestsFor(action model.RequestType) []*RecordedRequest {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []*RecordedRequest
	for _, rec := range ms.received {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

// AssertCalled verifies that action was received count times.
func (ms *MockServer) AssertCalled(t *testing.T, action model.RequestType, count int) {
	t.Helper()
	if got := len(ms.RequestsFor(action)); got != count {
		t.Errorf("mock server: %s called %d times, want %d", action, got, count)
	}
}

// Reset clears recorded requests and queued replies.
func (ms *MockServer) Reset() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.replies = make(map[model.RequestType]*replyQueue)
	ms.received = nil
}
