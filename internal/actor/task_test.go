package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandler struct {
	replies chan int
	closed  chan error
}

func (h *echoHandler) HandleEnvelope(self Mailbox, msg any) (bool, error) {
	switch m := msg.(type) {
	case *Req[int]:
		if r := m.ReplySender(); r != nil {
			r <- m.Payload * 2
		}
		h.replies <- m.Payload
	case *OneWay[int]:
		if m.Payload == -1 {
			return true, nil
		}
		if m.Payload == -2 {
			return false, errors.New("boom")
		}
		h.replies <- m.Payload
	case Close:
		h.closed <- m.Reason
	}
	return false, nil
}

func TestTaskRequestReply(t *testing.T) {
	h := &echoHandler{replies: make(chan int, 8), closed: make(chan error, 1)}
	task, self := NewTask(nil, h, nil)
	task.Run()

	req := NewReq(21)
	got := req.AwaitReply(self)
	assert.Equal(t, 42, got)
}

func TestTaskOneWayPost(t *testing.T) {
	h := &echoHandler{replies: make(chan int, 8), closed: make(chan error, 1)}
	task, self := NewTask(nil, h, nil)
	task.Run()

	NewOneWay(7).Post(self)
	select {
	case v := <-h.replies:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for one-way delivery")
	}
}

func TestTaskTerminateOnTrue(t *testing.T) {
	h := &echoHandler{replies: make(chan int, 8), closed: make(chan error, 1)}
	task, self := NewTask(nil, h, nil)
	task.Run()

	NewOneWay(-1).Post(self)
	// mailbox is not drained further; a second send would block forever
	// because the loop and its mailbox pump have exited, so instead assert
	// the handler stops producing.
	select {
	case <-h.replies:
		t.Fatal("handler ran after terminate")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTaskErrorSynthesizesClose(t *testing.T) {
	h := &echoHandler{replies: make(chan int, 8), closed: make(chan error, 1)}
	task, self := NewTask(nil, h, nil)
	task.Run()

	NewOneWay(-2).Post(self)
	select {
	case err := <-h.closed:
		require.Error(t, err)
		assert.Equal(t, "boom", err.Error())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Close envelope")
	}
}

type countingManage struct {
	seen chan string
}

func (c *countingManage) HandleEnvelope(self Mailbox, children *Children[string], msg any) (bool, error) {
	switch m := msg.(type) {
	case *OneWay[string]:
		children.Put(m.Payload, NewMailbox())
		c.seen <- m.Payload
	}
	return false, nil
}

func TestTaskManageChildRegistry(t *testing.T) {
	h := &countingManage{seen: make(chan string, 4)}
	mgr, self := NewTaskManage[string](nil, h, nil)
	mgr.Run()

	NewOneWay("alpha").Post(self)
	<-h.seen

	require.Eventually(t, func() bool {
		return mgr.Children.Len() == 1
	}, time.Second, time.Millisecond)

	_, ok := mgr.Children.Get("alpha")
	assert.True(t, ok)
}
