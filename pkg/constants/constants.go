package constants

import "time"

// Application
const (
	AgentAppName = "LOOP_AGENT"

	// RunIDEnvVarKey is read once at startup; it scopes every local and remote artifact.
	RunIDEnvVarKey = "RUN_ID"
	DefaultRunID   = "default-run"

	HFTokenEnvVarKey = "HF_TOKEN"
	HFTokenFilePath  = "secrets/hf_token"
)

// Configuration files
const (
	DefaultConfigFilePath    = "conf/config.yaml"
	AgentConfigFilePath      = "conf/mini_qwen_thinking.yaml"
	MergeTemplateFilePath    = "conf/mk_apply_template.yml"
	MergeTemplatePlaceholder = "__NEW_A__"
)

// Merge
const (
	MergeKitCommand     = "mergekit-yaml"
	MergeConfigFileName = "mk.yml"
)

// Repository template keys under `repos`
const (
	RepoKeySWEBenchDataset = "sweb_dataset"
	RepoKeyACheckpoint     = "a_ckpt_model"
	RepoKeyAMerged         = "a_merged_model"
	RepoKeyCodeDataset     = "code_dataset"
	RepoKeyLogsDataset     = "logs_dataset"
)

// Run-scoped layout
const (
	RunsDirectory        = "runs"
	AFinalLinkName       = "A_final"
	SWEDirectoryName     = "swe"
	SFTDirectoryName     = "sft"
	TrainADirectoryName  = "trainA"
	MetaDirectoryName    = "meta"
	BNewDirectoryName    = "B_new"
	LogsDirectoryName    = "logs"
	SFTTrainingDataFile  = "sft_qwenA_from_B_mini.jsonl"
	FinalMergedDirectory = "final_merged_A"
)

// Benchmark runner artifacts
const (
	PredictionsFileName = "preds.json"
	ProgressFileName    = "progress.json"
	MirrorFileName      = "all-preds.jsonl"
	TracesArchiveName   = "traces.tgz"
	TracesArchiveRoot   = "swe"

	MiniDatasetName          = "MariusHobbhahn/SWE-bench-verified-mini"
	DefaultDatasetsServerURL = "https://datasets-server.huggingface.co"
	DatasetRowsPageSize      = 100
	MiniDatasetMarker        = "mini"

	SingularityEnvironmentClass = "singularity"
	DockerImageScheme           = "docker://"
	SWEBenchImageTemplate       = "docker://docker.io/swebench/sweb.eval.x86_64.%s:latest"
	SWEBenchDoubleUnderscore    = "__"
	SWEBenchDoubleUnderscoreSub = "_1776_"
)

// Training
const (
	CheckpointPrefix        = "checkpoint-"
	MergedStepPrefix        = "merged_step_"
	TrainerStateFileName    = "trainer_state.json"
	CheckpointSettleTimeout = 10 * time.Minute
	CheckpointPollInterval  = 2 * time.Second
)

// Serving
const (
	DefaultServingPort       = 8000
	ServingReadyTimeout      = 600 * time.Second
	ServingReadyPollInterval = 5 * time.Second
	ServingReadyProbeTimeout = 2 * time.Second
	ServingModelsPathFormat  = "http://127.0.0.1:%d/v1/models"
)

// Upload ignore patterns
var (
	DefaultUploadIgnorePatterns    = []string{".git/*", "**/*.pt", "**/*.bin"}
	CheckpointUploadIgnorePatterns = []string{"*.bin", "*.pt", ".git/*"}
)

// Snapshot sources and excludes
var (
	CodeSnapshotSources  = []string{"env", "conf", "slurm", "bin", "pipeline"}
	CodeSnapshotExcludes = []string{".hf/", ".cache/", "runs/", "logs/", "results/", "secrets/hf_token"}
)

// GetDefaultCodeDatasetRepo mirrors the fallback used when `repos.code_dataset` is unset.
func GetDefaultCodeDatasetRepo(user, runID string) string {
	return user + "/qwen3-loop-code-" + runID
}

// GetDefaultLogsDatasetRepo mirrors the fallback used when `repos.logs_dataset` is unset.
func GetDefaultLogsDatasetRepo(user, runID string) string {
	return user + "/qwen3-loop-logs-" + runID
}
