package sessions

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTransport_StreamDeliversInOrder(t *testing.T) {
	tr := NewTransport(0)
	st, err := tr.Subscribe("")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer st.Close()

	go func() {
		_, _ = tr.Send([]byte("a"))
		_, _ = tr.Send([]byte("b"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, want := range []string{"a", "b"} {
		ev, err := st.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if string(ev.Data) != want {
			t.Fatalf("event %d: want %q, got %q", i, want, ev.Data)
		}
	}
}

func TestTransport_ResumeAfterLastEventID(t *testing.T) {
	tr := NewTransport(0)
	for _, d := range []string{"1", "2", "3"} {
		if _, err := tr.Send([]byte(d)); err != nil {
			t.Fatal(err)
		}
	}

	st, err := tr.Subscribe("1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := st.Next(ctx)
	if err != nil || ev.ID != "2" || string(ev.Data) != "2" {
		t.Fatalf("want event 2, got %+v err=%v", ev, err)
	}
}

func TestTransport_ReplayIsBounded(t *testing.T) {
	tr := NewTransport(2)
	for _, d := range []string{"1", "2", "3", "4"} {
		_, _ = tr.Send([]byte(d))
	}
	st, _ := tr.Subscribe("0")
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := st.Next(ctx)
	if err != nil || ev.ID != "3" {
		t.Fatalf("want oldest retained event 3, got %+v err=%v", ev, err)
	}
}

func TestTransport_SingleReader(t *testing.T) {
	tr := NewTransport(0)
	st, err := tr.Subscribe("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Subscribe(""); !errors.Is(err, ErrStreamActive) {
		t.Fatalf("want ErrStreamActive, got %v", err)
	}
	st.Close()
	st2, err := tr.Subscribe("")
	if err != nil {
		t.Fatalf("subscribe after release: %v", err)
	}
	st2.Close()
}

func TestTransport_CloseEndsStream(t *testing.T) {
	tr := NewTransport(0)
	st, _ := tr.Subscribe("")
	defer st.Close()

	_, _ = tr.Send([]byte("last"))
	tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if ev, err := st.Next(ctx); err != nil || string(ev.Data) != "last" {
		t.Fatalf("queued event should drain before close, got %+v err=%v", ev, err)
	}
	if _, err := st.Next(ctx); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("want ErrTransportClosed, got %v", err)
	}
	if _, err := tr.Send([]byte("x")); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("send after close: want ErrTransportClosed, got %v", err)
	}
}

func TestTransport_OnCloseAfterClose(t *testing.T) {
	tr := NewTransport(0)
	tr.Close()
	ran := false
	tr.OnClose(func() { ran = true })
	if !ran {
		t.Fatal("callback registered after close should run immediately")
	}
}
