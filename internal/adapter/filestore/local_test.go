package filestore_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/rosterbatch/rosterbatch/internal/adapter/filestore"
)

func TestLocalStore(t *testing.T) {
	store, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	url, err := store.Store(context.Background(), "SPRN-ABC123", []byte("student_name,grade\nAsha,5\n"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "SPRN-ABC123.csv") {
		t.Fatalf("url = %q", url)
	}

	data, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if !strings.Contains(string(data), "Asha") {
		t.Errorf("stored content = %q", data)
	}
}
