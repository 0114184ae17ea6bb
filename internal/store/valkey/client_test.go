package valkey

import (
	"testing"
	"time"

	"github.com/maraichr/eomat/internal/config"
)

func TestClientOptions(t *testing.T) {
	opts := clientOptions(config.ValkeyConfig{
		Addr: "cache:6379", DB: 2, ClientName: "eomat-worker", DialTimeout: 3 * time.Second,
	})
	if len(opts.InitAddress) != 1 || opts.InitAddress[0] != "cache:6379" {
		t.Errorf("InitAddress = %v, want [cache:6379]", opts.InitAddress)
	}
	if opts.SelectDB != 2 {
		t.Errorf("SelectDB = %d, want 2", opts.SelectDB)
	}
	if opts.ClientName != "eomat-worker" {
		t.Errorf("ClientName = %q, want eomat-worker", opts.ClientName)
	}
	if opts.Dialer.Timeout != 3*time.Second {
		t.Errorf("Dialer.Timeout = %v, want 3s", opts.Dialer.Timeout)
	}
	if !opts.DisableCache {
		t.Error("DisableCache = false, want true")
	}
	if opts.Password != "" {
		t.Errorf("Password = %q, want empty", opts.Password)
	}
}
