// Package firestoretest connects integration tests to a Firestore emulator.
package firestoretest

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/config"
	pfirestore "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

// Provider returns a provider bound to projectID on an emulator. FIRESTORE_EMULATOR_HOST is used
// when set; otherwise a throwaway emulator container is started and stopped with the test. The
// test is skipped when neither is possible.
func Provider(t testing.TB, projectID string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("firestore emulator tests skipped in short mode")
	}

	endpoint := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if endpoint == "" {
		endpoint = startContainer(t)
	}

	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func startContainer(t testing.TB) string {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("no FIRESTORE_EMULATOR_HOST and docker not installed")
	}
	if err := docker(5*time.Second, "info"); err != nil {
		t.Skipf("docker daemon unavailable: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port), emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v: %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	t.Cleanup(func() { _ = docker(10*time.Second, "stop", id) })

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	if err := awaitTCP(endpoint, 30*time.Second); err != nil {
		t.Fatalf("firestore emulator not ready: %v", err)
	}
	return endpoint
}

func docker(timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return exec.CommandContext(ctx, "docker", args...).Run()
}

func awaitTCP(endpoint string, within time.Duration) error {
	deadline := time.Now().Add(within)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			return conn.Close()
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(250 * time.Millisecond)
	}
}
