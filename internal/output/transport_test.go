package output

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "nhooyr.io/websocket"
)

func TestChannelTransport(t *testing.T) {
	tr := NewChannelTransport(1)
	ctx := context.Background()

	if err := tr.Deliver(ctx, Envelope{Seq: 1}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	full, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := tr.Deliver(full, Envelope{Seq: 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline on full buffer, got %v", err)
	}

	if env := <-tr.C(); env.Seq != 1 {
		t.Fatalf("unexpected envelope %+v", env)
	}

	tr.Close()
	tr.Close()
	if err := tr.Deliver(ctx, Envelope{Seq: 3}); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestWSTransportDeliversEnvelopes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		tr := NewWSTransport(conn)
		defer tr.Close()

		if err := tr.Deliver(r.Context(), Envelope{Seq: 7, Type: MsgSetLive, TargetID: "window", Live: item("x")}); err != nil {
			t.Errorf("deliver: %v", err)
			return
		}
		// Hold the connection until the client hangs up.
		conn.Read(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Seq != 7 || got.Type != MsgSetLive || got.Live == nil || got.Live.ID != "x" {
		t.Fatalf("unexpected envelope %+v", got)
	}

	surface := NewSurface()
	if !surface.Apply(got) {
		t.Fatal("surface rejected delivered envelope")
	}
}
