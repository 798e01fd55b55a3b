package crdt

import (
	"bytes"
	"testing"
)

// delta mutates a fresh document and returns the incremental update for it.
func delta(t *testing.T, path string, value interface{}) []byte {
	t.Helper()
	d := New()
	if err := d.SetValue(path, value); err != nil {
		t.Fatalf("SetValue(%q) error = %v", path, err)
	}
	b := d.TakeUpdate()
	if b == nil {
		t.Fatalf("TakeUpdate() returned nil after a mutation")
	}
	return b
}

func TestConvergenceAcrossOrderings(t *testing.T) {
	u1 := delta(t, "title", "draft")
	u2 := delta(t, "body", "hello world")

	a := New()
	if err := a.ApplyUpdate(u1); err != nil {
		t.Fatalf("ApplyUpdate(u1) error = %v", err)
	}
	if err := a.ApplyUpdate(u2); err != nil {
		t.Fatalf("ApplyUpdate(u2) error = %v", err)
	}

	b := New()
	if err := b.ApplyUpdate(u2); err != nil {
		t.Fatalf("ApplyUpdate(u2) error = %v", err)
	}
	if err := b.ApplyUpdate(u1); err != nil {
		t.Fatalf("ApplyUpdate(u1) error = %v", err)
	}

	if a.Contents() != b.Contents() {
		t.Fatalf("replicas diverged:\n a = %s\n b = %s", a.Contents(), b.Contents())
	}
}

func TestIdempotentReplay(t *testing.T) {
	u := delta(t, "title", "draft")

	d := New()
	if err := d.ApplyUpdate(u); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	once := d.Contents()

	if err := d.ApplyUpdate(u); err != nil {
		t.Fatalf("replayed ApplyUpdate() error = %v", err)
	}
	if d.Contents() != once {
		t.Fatalf("replay changed state: %s != %s", d.Contents(), once)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	d := New()
	if err := d.SetValue("title", "draft"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	restored, err := Load(d.Snapshot())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if restored.Contents() != d.Contents() {
		t.Fatalf("round trip changed state: %s != %s", restored.Contents(), d.Contents())
	}
}

func TestLoadEmptyBlobYieldsEmptyDocument(t *testing.T) {
	d, err := Load(nil)
	if err != nil {
		t.Fatalf("Load(nil) error = %v", err)
	}
	if got := d.TakeUpdate(); got != nil {
		t.Fatalf("empty document has pending update: %x", got)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	if _, err := Load([]byte("not a snapshot")); err == nil {
		t.Fatal("expected Load() to fail for a corrupt blob")
	}
}

func TestTakeUpdateDrains(t *testing.T) {
	d := New()
	if err := d.SetValue("title", "draft"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	first := d.TakeUpdate()
	if first == nil {
		t.Fatal("expected a delta after a mutation")
	}
	if second := d.TakeUpdate(); second != nil {
		t.Fatalf("second TakeUpdate() not nil: %x", second)
	}
}

func TestSyncHandshakeConverges(t *testing.T) {
	server := New()
	if err := server.SetValue("title", "draft"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	client := New()
	if err := client.SetValue("cursor", "home"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	ss := server.NewSyncState()
	cs := client.NewSyncState()

	for i := 0; i < 20; i++ {
		progressed := false
		if msg, ok := ss.GenerateMessage(); ok {
			if err := cs.ReceiveMessage(msg); err != nil {
				t.Fatalf("client ReceiveMessage() error = %v", err)
			}
			progressed = true
		}
		if msg, ok := cs.GenerateMessage(); ok {
			if err := ss.ReceiveMessage(msg); err != nil {
				t.Fatalf("server ReceiveMessage() error = %v", err)
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}

	if server.Contents() != client.Contents() {
		t.Fatalf("handshake did not converge:\n server = %s\n client = %s", server.Contents(), client.Contents())
	}
	if !bytes.Equal(server.Snapshot(), client.Snapshot()) {
		t.Fatal("converged documents serialize differently")
	}
}

func TestForkIsolatesWrites(t *testing.T) {
	canonical := New()
	if err := canonical.SetValue("title", "draft"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	canonical.TakeUpdate()

	fork, err := canonical.Fork()
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}
	if err := fork.SetValue("title", "tampered"); err != nil {
		t.Fatalf("SetValue() on fork error = %v", err)
	}

	if canonical.Contents() == fork.Contents() {
		t.Fatal("write through fork reached the canonical document")
	}
}
