package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quizmark_backend/internal/grading"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) StatusEvent {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed")
		var ev StatusEvent
		require.NoError(t, json.Unmarshal(msg, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no status event")
	}
	return StatusEvent{}
}

func TestStatusHubDeliversPerQuiz(t *testing.T) {
	hub := NewStatusHub(nil)
	a, cancelA := hub.Subscribe("quiz-a")
	b, cancelB := hub.Subscribe("quiz-b")
	defer cancelB()

	hub.Publish("quiz-a", grading.State{Status: grading.StatusRunning, Threshold: 0.4})
	ev := receive(t, a)
	assert.Equal(t, "quiz-a", ev.QuizID)
	assert.Equal(t, grading.StatusRunning, ev.State.Status)
	assert.Empty(t, b)

	cancelA()
	cancelA()
	_, ok := <-a
	assert.False(t, ok)
	assert.Zero(t, hub.Subscribers("quiz-a"))
	assert.Equal(t, 1, hub.Subscribers("quiz-b"))

	hub.Stop()
	_, ok = <-b
	assert.False(t, ok)
}

func TestStatusHubDropsWhenSubscriberIsSlow(t *testing.T) {
	hub := NewStatusHub(nil)
	ch, cancel := hub.Subscribe("q")
	defer cancel()

	for i := 0; i < subscriberBuf+5; i++ {
		hub.Publish("q", grading.NewState())
	}
	assert.Len(t, ch, subscriberBuf)
}

func TestAnalysisTransitionsArePublished(t *testing.T) {
	env := newTestEnv(t)
	env.analysis.Hub = NewStatusHub(nil)
	quiz := env.readyForAnalysis(t)

	events, cancel := env.analysis.Hub.Subscribe(quiz.ID)
	defer cancel()

	_, err := env.analysis.RunAnalysis(context.Background(), quiz.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusRunning, receive(t, events).State.Status)
	assert.Equal(t, grading.StatusCompleted, receive(t, events).State.Status)
}

func TestServeStatusOverWebSocket(t *testing.T) {
	hub := NewStatusHub(nil)
	current := grading.State{Status: grading.StatusCopiesUploaded, Threshold: 0.5, PageCount: 2}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeStatus(w, r, "q1", func() (grading.State, error) { return current, nil })
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first StatusEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "q1", first.QuizID)
	assert.Equal(t, 2, first.State.PageCount)

	hub.Publish("q1", grading.State{Status: grading.StatusRunning, Threshold: 0.5})
	var next StatusEvent
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, grading.StatusRunning, next.State.Status)
}
