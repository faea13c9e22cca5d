package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rcliao/danmaku-monitor/internal/model"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	src.Put(ctx, entry("a1", model.MediaAvatar, 0))
	src.Put(ctx, entry("g1", model.MediaGiftIcon, 1))

	exported, err := ExportAll(ctx, src, "")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exported) != 2 {
		t.Fatalf("expected 2 exported, got %d", len(exported))
	}

	raw, err := json.Marshal(exported)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded []ExportedEntry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	dst := newTestStore(t)
	dst.Put(ctx, entry("a1", model.MediaAvatar, 9))
	n, err := Import(ctx, dst, decoded)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 imported (a1 already present), got %d", n)
	}
	got, err := dst.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Data) != "img:g1" || got.Category != model.MediaGiftIcon {
		t.Errorf("imported entry mismatch: %+v", got)
	}
}

func TestExportByCategory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Put(ctx, entry("a1", model.MediaAvatar, 0))
	s.Put(ctx, entry("q", model.MediaQRCode, 1))

	exported, err := ExportAll(ctx, s, model.MediaQRCode)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exported) != 1 || exported[0].URL != "q" {
		t.Errorf("expected only the qrcode entry, got %+v", exported)
	}
}
