package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/danmaku-monitor/internal/logging"
	"github.com/rcliao/danmaku-monitor/internal/model"
	"github.com/rcliao/danmaku-monitor/internal/monitor"
	"github.com/rcliao/danmaku-monitor/internal/view"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"7d", 7 * 24 * time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"60s", time.Minute, false},
		{"7w", 0, true},
		{"d", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("parseDuration(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseDuration(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		e    model.Event
		want string
	}{
		{
			"chat",
			model.Event{Category: model.CategoryChat, DisplayTime: "2023-11-14 22:13:20", Username: "alice", Privilege: "舰长", Content: "hello"},
			"[2023-11-14 22:13:20] chat      alice[舰长]: hello",
		},
		{
			"gift",
			model.Event{Category: model.CategoryGift, DisplayTime: "t", Username: "bob", GiftName: "小心心", Count: 3},
			"[t] gift      bob sent 小心心 x3",
		},
		{
			"superchat",
			model.Event{Category: model.CategorySuperChat, DisplayTime: "t", Username: "carol", Price: 30, Content: "hi"},
			"[t] superchat carol (30): hi",
		},
	}
	for _, tt := range tests {
		if got := formatEvent(tt.e); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestReplay(t *testing.T) {
	var in strings.Builder
	for i := 1; i <= 250; i++ {
		fmt.Fprintf(&in, `{"user_name":"u%d","msg_type":"danmaku","dm_text":"m%d","timestamp":1700000000}`+"\n", i, i)
	}
	in.WriteString("\nnot json\n")
	in.WriteString(`{"user_name":"x","msg_type":"mystery"}` + "\n")
	in.WriteString(`{"user_name":"g","msg_type":"gift","gift_type":"小心心","num":2}` + "\n")

	sess := monitor.NewSession(monitor.Config{Window: view.Config{MaxRender: 50}, Logger: logging.Discard()})
	res, err := replay(strings.NewReader(in.String()), sess)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Ingested != 251 || res.Skipped != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	chat := sess.Buffer(model.CategoryChat).Snapshot()
	if len(chat) != 200 || chat[0].Content != "m51" || chat[199].Content != "m250" {
		t.Fatalf("buffer should hold m51..m250, got %d events", len(chat))
	}

	var out bytes.Buffer
	if err := writeWindows(&out, sess, "json"); err != nil {
		t.Fatalf("write windows: %v", err)
	}
	var windows map[string][]model.Event
	if err := json.Unmarshal(out.Bytes(), &windows); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(windows["chat"]) != 50 || windows["chat"][0].Content != "m201" {
		t.Errorf("chat window should show the last 50 events")
	}
	if len(windows["gift"]) != 1 || windows["superchat"] == nil {
		t.Errorf("unexpected windows: gift=%d superchat=%v", len(windows["gift"]), windows["superchat"])
	}

	out.Reset()
	if err := writeWindows(&out, sess, "text"); err != nil {
		t.Fatalf("write windows: %v", err)
	}
	if !strings.Contains(out.String(), "== chat (50 of 200) ==") {
		t.Errorf("missing chat header in %q", out.String())
	}
}

// droppingFeed fails every Listen and cancels the watch on its last call.
type droppingFeed struct {
	calls  int
	last   int
	cancel context.CancelFunc
}

func (f *droppingFeed) Listen(ctx context.Context, roomID, userName string, handle func(model.RawEvent)) error {
	f.calls++
	if f.calls == f.last {
		f.cancel()
	}
	return errors.New("connection reset")
}

func TestWatchRoomReturnsFeedError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := monitor.NewSession(monitor.Config{Logger: logging.Discard()})
	src := &droppingFeed{cancel: cancel}

	err := watchRoom(ctx, sess, "1", "", nil, src, false, time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected the feed error, got %v", err)
	}
	if src.calls != 1 {
		t.Errorf("expected 1 connect without reconnect, got %d", src.calls)
	}
}

func TestWatchRoomReconnectsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := monitor.NewSession(monitor.Config{Logger: logging.Discard()})
	src := &droppingFeed{last: 3, cancel: cancel}

	if err := watchRoom(ctx, sess, "1", "", nil, src, true, time.Millisecond); err != nil {
		t.Fatalf("expected nil after cancel, got %v", err)
	}
	if src.calls != 3 {
		t.Errorf("expected 3 connects, got %d", src.calls)
	}
}
