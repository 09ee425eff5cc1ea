package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"kisflow/config"
	"kisflow/internal/channel"
)

type staticKeys struct{ key string }

func (s staticKeys) ApprovalKey(ctx context.Context) (string, error) {
	return s.key, nil
}

func testChannels() *channel.Channels {
	return channel.NewChannels(config.ChannelsConfig{
		RawBuffer:     64,
		SignalBuffer:  64,
		OrderBuffer:   64,
		PersistBuffer: 64,
	})
}

func TestConnectorRelaysMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotSub string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		_, sub, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read subscription: %v", err)
			return
		}
		gotSub = string(sub)

		if err := conn.WriteMessage(websocket.TextMessage, []byte("0|H0STCNT0|069500|120001^35000")); err != nil {
			return
		}
		// Hold the connection open so the relay keeps reading.
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg := config.FeedConfig{
		URL:        url,
		BackoffSec: 1,
		Subscriptions: []config.SubscriptionConfig{
			{TrID: "H0STCNT0", TrKey: "069500"},
		},
	}

	ch := testChannels()
	ctx, cancel := context.WithCancel(context.Background())
	conn := NewConnector(cfg, staticKeys{key: "approval-abc"}, ch)
	if err := conn.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case raw := <-ch.Raw:
		if raw.Payload != "0|H0STCNT0|069500|120001^35000" {
			t.Errorf("unexpected relayed payload: %q", raw.Payload)
		}
		if raw.Received.IsZero() {
			t.Error("expected receive timestamp to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed message")
	}

	cancel()
	conn.Stop()

	if !strings.Contains(gotSub, "approval-abc") {
		t.Errorf("subscription frame missing approval key: %s", gotSub)
	}
	if !strings.Contains(gotSub, "H0STCNT0") || !strings.Contains(gotSub, "069500") {
		t.Errorf("subscription frame missing topic fields: %s", gotSub)
	}
}

func TestConnectorDoubleStart(t *testing.T) {
	cfg := config.FeedConfig{URL: "ws://127.0.0.1:1", BackoffSec: 1}
	conn := NewConnector(cfg, staticKeys{key: "k"}, testChannels())

	ctx, cancel := context.WithCancel(context.Background())
	if err := conn.Start(ctx); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := conn.Start(ctx); err == nil {
		t.Error("expected error on second start")
	}
	cancel()
	conn.Stop()
}

func TestMarshalSubscription(t *testing.T) {
	out, err := MarshalSubscription("key-1", config.SubscriptionConfig{TrID: "H0STASP0", TrKey: "069500"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for _, want := range []string{`"approval_key":"key-1"`, `"tr_id":"H0STASP0"`, `"tr_key":"069500"`, `"custtype":"P"`, `"tr_type":"1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("frame missing %s: %s", want, out)
		}
	}
}
