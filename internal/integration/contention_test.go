package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/OrygnsCode/ci-evidence-pack/core/bundle"
	"github.com/OrygnsCode/ci-evidence-pack/core/verify"
	"github.com/OrygnsCode/ci-evidence-pack/internal/testutil"
)

func TestConcurrentCreatesIntoSameOutputStayValid(t *testing.T) {
	repo := writeWorkspace(t)
	outDir := filepath.Join(t.TempDir(), "dist")

	const workers = 6
	digests := make([]string, workers)
	var group sync.WaitGroup
	for index := range workers {
		group.Add(1)
		go func() {
			defer group.Done()
			result, err := bundle.Create(context.Background(), options(repo, outDir, &testutil.FakeRunner{}))
			if err != nil {
				t.Errorf("create %d: %v", index, err)
				return
			}
			digests[index] = result.BundleSHA256
		}()
	}
	group.Wait()

	for index, digest := range digests {
		if digest != digests[0] {
			t.Fatalf("worker %d produced %s, expected %s", index, digest, digests[0])
		}
	}
	verified, err := verify.VerifyBundle(context.Background(), verify.Options{BundlePath: filepath.Join(outDir, "evidence.tar.gz")})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified.ManifestVerified {
		t.Fatalf("expected published bundle to verify, got %v", *verified.Error)
	}
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read out dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the bundle in the output dir, got %d entries", len(entries))
	}
}
