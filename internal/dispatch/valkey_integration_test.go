//go:build integration

package dispatch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

func setupValkey(t *testing.T) valkey.Client {
	t.Helper()
	addr := os.Getenv("TEST_VALKEY_ADDR")
	if addr == "" {
		t.Fatal("TEST_VALKEY_ADDR not set")
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		t.Skipf("valkey not available: %v", err)
	}
	ctx := context.Background()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		t.Skipf("valkey ping failed: %v", err)
	}
	for _, k := range []string{delayedKey, ProcessStream.Key, DownloadStream.Key} {
		client.Do(ctx, client.B().Del().Key(k).Build())
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func streamLen(t *testing.T, client valkey.Client, key string) int64 {
	t.Helper()
	n, err := client.Do(context.Background(), client.B().Xlen().Key(key).Build()).AsInt64()
	if err != nil {
		t.Fatalf("xlen %s: %v", key, err)
	}
	return n
}

func TestValkeyQueue_SubmitRoutesByKind(t *testing.T) {
	client := setupValkey(t)
	q := NewValkeyQueue(client)
	ctx := context.Background()

	if _, err := q.Submit(ctx, Job{Kind: KindProcess, TargetID: uuid.New()}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit(ctx, Job{Kind: KindDownload, TargetID: uuid.New(), MaxAttempts: 3}); err != nil {
		t.Fatal(err)
	}
	if n := streamLen(t, client, ProcessStream.Key); n != 1 {
		t.Errorf("process stream = %d, want 1", n)
	}
	if n := streamLen(t, client, DownloadStream.Key); n != 1 {
		t.Errorf("download stream = %d, want 1", n)
	}
}

func TestValkeyQueue_RetryWaitsUntilDue(t *testing.T) {
	client := setupValkey(t)
	q := NewValkeyQueue(client)
	ctx := context.Background()
	base := time.Now().UTC()
	q.now = func() time.Time { return base }

	job := Job{ID: "j1", Kind: KindDownload, Attempt: 1, MaxAttempts: 2}
	if err := q.Retry(ctx, job, time.Minute); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if moved, err := q.Promote(ctx, 10); err != nil || moved != 0 {
		t.Fatalf("early Promote = %d, %v; want 0", moved, err)
	}

	q.now = func() time.Time { return base.Add(2 * time.Minute) }
	moved, err := q.Promote(ctx, 10)
	if err != nil || moved != 1 {
		t.Fatalf("Promote = %d, %v; want 1", moved, err)
	}
	if n, _ := q.Pending(ctx); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
	if n := streamLen(t, client, DownloadStream.Key); n != 1 {
		t.Errorf("download stream = %d, want 1", n)
	}

	job.Attempt = 2
	if err := q.Retry(ctx, job, 0); err != ErrMaxRetriesExceeded {
		t.Errorf("Retry past budget: err = %v", err)
	}
}
