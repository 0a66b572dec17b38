package messenger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	m := New()
	ch, cancel := m.Subscribe("objects")
	defer cancel()

	m.Publish("objects", []byte("a"))
	m.Publish("objects", []byte("b"))
	m.Publish("objects", []byte("c"))

	for _, want := range []string{"a", "b", "c"} {
		select {
		case got := <-ch:
			require.Equal(t, want, string(got))
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestSubjectsAreIsolated(t *testing.T) {
	m := New()
	objectsCh, cancelObjects := m.Subscribe("objects")
	defer cancelObjects()
	processesCh, cancelProcesses := m.Subscribe("processes")
	defer cancelProcesses()

	m.Publish("objects", []byte("obj"))

	select {
	case got := <-objectsCh:
		require.Equal(t, "obj", string(got))
	case <-time.After(time.Second):
		t.Fatal("did not receive on objects subject")
	}

	select {
	case <-processesCh:
		t.Fatal("processes subscriber should not see objects messages")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	m := New()
	ch, cancel := m.Subscribe("objects")
	cancel()

	m.Publish("objects", []byte("after-cancel"))

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after cancel")
}
