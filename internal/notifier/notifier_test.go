package notifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/protocol"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	controls []int
	failWith error
	block    chan struct{}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.messages = append(c.messages, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.messages...)
}

func (c *fakeConn) Controls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.controls...)
}

func waitDone(t *testing.T, n *Notifier) {
	t.Helper()
	select {
	case <-n.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("notifier did not stop")
	}
}

func TestFramesKeepPerProducerOrder(t *testing.T) {
	conn := &fakeConn{}
	n := New(conn, "s1", Options{QueueSize: 4})

	const producers, perProducer = 4, 50
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				assert.NoError(t, n.Send(protocol.OutputNotification(fmt.Sprint(p), "t", fmt.Sprint(i))))
			}
		}()
	}
	wg.Wait()
	n.Close()
	waitDone(t, n)

	msgs := conn.Messages()
	require.Len(t, msgs, producers*perProducer)
	next := map[string]int{}
	for _, raw := range msgs {
		var note protocol.Notification
		require.NoError(t, json.Unmarshal(raw, &note))
		assert.Equal(t, fmt.Sprint(next[note.Execution]), note.Line)
		next[note.Execution]++
	}
}

func TestSingleProducerFIFO(t *testing.T) {
	conn := &fakeConn{}
	n := New(conn, "s1", Options{})
	for i := range 20 {
		reply, err := protocol.OKReply(uint64(i), nil)
		require.NoError(t, err)
		require.NoError(t, n.Send(reply))
	}
	n.Close()
	waitDone(t, n)

	for i, raw := range conn.Messages() {
		var reply protocol.Reply
		require.NoError(t, json.Unmarshal(raw, &reply))
		assert.Equal(t, uint64(i), reply.ID)
	}
	assert.Contains(t, conn.Controls(), websocket.CloseMessage)
}

func TestSendAfterCloseFails(t *testing.T) {
	n := New(&fakeConn{}, "s1", Options{})
	n.Close()
	waitDone(t, n)

	err := n.Send(protocol.OutputNotification("e", "t", "line"))
	assert.ErrorIs(t, err, errdefs.ErrTransport)
}

func TestWriteFailureClosesNotifier(t *testing.T) {
	conn := &fakeConn{failWith: errors.New("connection reset")}
	n := New(conn, "s1", Options{})

	require.NoError(t, n.Send(protocol.OutputNotification("e", "t", "line")))
	waitDone(t, n)
	assert.ErrorIs(t, n.Send(protocol.OutputNotification("e", "t", "line")), errdefs.ErrTransport)
}

func TestFullQueueClosesSlowConsumer(t *testing.T) {
	conn := &fakeConn{block: make(chan struct{})}
	defer close(conn.block)
	n := New(conn, "s1", Options{QueueSize: 1, WriteTimeout: 30 * time.Millisecond})

	var err error
	for range 5 {
		if err = n.Send(protocol.OutputNotification("e", "t", "line")); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, errdefs.ErrTransport)
}

func TestPings(t *testing.T) {
	conn := &fakeConn{}
	n := New(conn, "s1", Options{PingInterval: 10 * time.Millisecond})
	defer n.Close()

	require.Eventually(t, func() bool {
		for _, c := range conn.Controls() {
			if c == websocket.PingMessage {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReporterFrames(t *testing.T) {
	conn := &fakeConn{}
	n := New(conn, "s1", Options{})

	n.Line("e1", "probe1", "main 1")
	n.Finished(execution.Result{ID: "e1", Name: "probe1", State: execution.Completed, Iterations: 3})
	n.Close()
	waitDone(t, n)

	msgs := conn.Messages()
	require.Len(t, msgs, 2)

	var out, done protocol.Notification
	require.NoError(t, json.Unmarshal(msgs[0], &out))
	require.NoError(t, json.Unmarshal(msgs[1], &done))
	assert.Equal(t, protocol.EventOutput, out.Event)
	assert.Equal(t, "main 1", out.Line)
	assert.Equal(t, protocol.EventCompleted, done.Event)
	require.NotNil(t, done.Result)
	assert.Equal(t, uint(3), done.Result.Iterations)
}
