package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mizuki-ai/kaiwa/internal/filelock"
	"github.com/mizuki-ai/kaiwa/internal/session"
	"github.com/mizuki-ai/kaiwa/internal/turn"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// useTempDataDir points the CLI at an isolated data directory
func useTempDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("KAIWA_PATHS_DATA_DIR", dir)
	t.Cleanup(viper.Reset)
	return dir
}

func TestRootCommand(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd is nil")
	}
	if rootCmd.Use != "kaiwa" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "kaiwa")
	}

	// Check for expected subcommands (compare by Name(), not Use which includes args)
	expectedCmds := []string{"sessions", "cleanup"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestSessionsLifecycle(t *testing.T) {
	useTempDataDir(t)

	output, err := executeCommand(rootCmd, "sessions", "new", "research", "--purpose", "find papers")
	if err != nil {
		t.Fatalf("sessions new failed: %v", err)
	}
	if !strings.Contains(output, "research") {
		t.Errorf("new output %q missing session ID", output)
	}

	// Creating the same session twice fails
	if _, err := executeCommand(rootCmd, "sessions", "new", "research"); err == nil {
		t.Error("expected error creating duplicate session")
	}

	output, err = executeCommand(rootCmd, "sessions", "list")
	if err != nil {
		t.Fatalf("sessions list failed: %v", err)
	}
	if !strings.Contains(output, "research") || !strings.Contains(output, "find papers") {
		t.Errorf("list output missing session:\n%s", output)
	}

	output, err = executeCommand(rootCmd, "sessions", "show", "research")
	if err != nil {
		t.Fatalf("sessions show failed: %v", err)
	}
	if !strings.Contains(output, `"session_id": "research"`) {
		t.Errorf("show output missing session_id field:\n%s", output)
	}

	output, err = executeCommand(rootCmd, "sessions", "show", "research", "--format", "yaml")
	if err != nil {
		t.Fatalf("sessions show --format yaml failed: %v", err)
	}
	if !strings.Contains(output, "session_id: research") {
		t.Errorf("yaml output missing session_id field:\n%s", output)
	}

	if _, err := executeCommand(rootCmd, "sessions", "delete", "research"); err != nil {
		t.Fatalf("sessions delete failed: %v", err)
	}

	output, err = executeCommand(rootCmd, "sessions", "list")
	if err != nil {
		t.Fatalf("sessions list after delete failed: %v", err)
	}
	if !strings.Contains(output, "No sessions found") {
		t.Errorf("expected empty listing after delete:\n%s", output)
	}
}

func TestSessionsShow_NotFound(t *testing.T) {
	useTempDataDir(t)

	_, err := executeCommand(rootCmd, "sessions", "show", "missing")
	if err == nil {
		t.Fatal("expected error for missing session")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error %q does not mention not found", err)
	}
}

func TestSessionsCompress(t *testing.T) {
	dir := useTempDataDir(t)

	// Seed a session with a few turns through the store directly; the CLI
	// has no append surface.
	st, err := session.NewStore(filepath.Join(dir, "sessions"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := st.Create("chat", "", ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		err := st.AppendTurn("chat", &turn.UserTask{
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Instruction: "step",
		})
		if err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	output, err := executeCommand(rootCmd, "sessions", "compress", "chat", "0", "2", "--summary", "early steps")
	if err != nil {
		t.Fatalf("sessions compress failed: %v", err)
	}
	if !strings.Contains(output, "Compressed turns [0, 2]") {
		t.Errorf("unexpected compress output:\n%s", output)
	}

	sess, err := st.Load("chat")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if sess.Turns.Len() != 2 {
		t.Fatalf("history has %d turns after compress, want 2", sess.Turns.Len())
	}
	first, _ := sess.Turns.At(0)
	ch, ok := first.(*turn.CompressedHistory)
	if !ok {
		t.Fatalf("first turn is %T, want CompressedHistory", first)
	}
	if ch.Summary != "early steps" {
		t.Errorf("Summary = %q", ch.Summary)
	}

	// An out-of-range span is rejected without touching the session.
	if _, err := executeCommand(rootCmd, "sessions", "compress", "chat", "0", "9", "--summary", "bad"); err == nil {
		t.Error("expected error for out-of-range span")
	}
}

func TestCleanup_NothingToClean(t *testing.T) {
	useTempDataDir(t)

	output, err := executeCommand(rootCmd, "cleanup")
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if !strings.Contains(output, "Nothing to clean up") {
		t.Errorf("unexpected cleanup output:\n%s", output)
	}
}

// TestCleanup_StaleRegistryLock covers the registry lock marker, which
// sits beside the registry file rather than under the sessions tree.
func TestCleanup_StaleRegistryLock(t *testing.T) {
	dir := useTempDataDir(t)

	// Simulate a crash while holding the registry lock.
	markerPath := filepath.Join(dir, ".cache_registry.json") + filelock.Suffix
	marker := fmt.Sprintf(`{"pid": 999999999, "hostname": "test", "acquired_at": %q}`,
		time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(markerPath, []byte(marker), 0644); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(rootCmd, "cleanup")
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if !strings.Contains(output, "Removed stale lock") {
		t.Errorf("cleanup did not report the stale registry lock:\n%s", output)
	}
	if _, err := os.Stat(markerPath); !os.IsNotExist(err) {
		t.Error("stale registry lock marker still present after cleanup")
	}
}
