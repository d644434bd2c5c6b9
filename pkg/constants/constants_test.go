package constants

import "testing"

func TestGetDefaultCodeDatasetRepo(t *testing.T) {
	repo := GetDefaultCodeDatasetRepo("alice", "r1")

	if repo != "alice/qwen3-loop-code-r1" {
		t.Errorf("GetDefaultCodeDatasetRepo failed, expected alice/qwen3-loop-code-r1, got %s", repo)
	}
}

func TestGetDefaultLogsDatasetRepo(t *testing.T) {
	repo := GetDefaultLogsDatasetRepo("alice", "r1")

	if repo != "alice/qwen3-loop-logs-r1" {
		t.Errorf("GetDefaultLogsDatasetRepo failed, expected alice/qwen3-loop-logs-r1, got %s", repo)
	}
}
