package txlog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLog_DeliversEntry(t *testing.T) {
	var mu sync.Mutex
	var received []models.TransactionLogEntry

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transactions/log", r.URL.Path)

		var entry models.TransactionLogEntry
		require.NoError(t, json.NewDecoder(r.Body).Decode(&entry))

		mu.Lock()
		received = append(received, entry)
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	l := New(server.URL, 3*time.Second, zap.NewNop())
	l.Log("insert", "blood_pressure", "medical_readings", "P1", "c12488906de0", "", "success")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "insert", received[0].Operation)
	assert.Equal(t, "medical_readings", received[0].Collection)
	assert.Equal(t, "P1", received[0].PatientID)
	assert.Equal(t, "success", received[0].Status)
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestLog_FailureDoesNotBlock(t *testing.T) {
	// 指向一个立即拒绝连接的地址：Log 必须立刻返回
	l := New("http://127.0.0.1:1", 100*time.Millisecond, zap.NewNop())

	done := make(chan struct{})
	go func() {
		l.Log("insert", "glucose", "medical_readings", "", "addr", "", "failed")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked the caller")
	}
}
