package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmit_DeliversEvent(t *testing.T) {
	var mu sync.Mutex
	var received []Event

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data-flow/emit", r.URL.Path)

		var event Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))

		mu.Lock()
		received = append(received, event)
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	b := New(server.URL, 3*time.Second, zap.NewNop())
	b.Emit(Event{
		Stage:      StageStored,
		Status:     "ok",
		DeviceType: "blood_pressure",
		Topic:      "ESP32_BLE_GW_TX",
		PatientID:  "P1",
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StageStored, received[0].Stage)
	assert.Equal(t, "P1", received[0].PatientID)
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestEmit_LossIsTolerated(t *testing.T) {
	b := New("http://127.0.0.1:1", 100*time.Millisecond, zap.NewNop())

	done := make(chan struct{})
	go func() {
		b.Emit(Event{Stage: StageError, Status: "failed", Topic: "x"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked the caller")
	}
}
