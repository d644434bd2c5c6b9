package swebench

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	utilexec "k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/hfutil/hub"
	"github.com/sgl-project/ome-loop/pkg/hfutil/hub/hubtest"
	"github.com/sgl-project/ome-loop/pkg/hubsync"
	"github.com/sgl-project/ome-loop/pkg/hubsync/hubsynctest"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
	"github.com/sgl-project/ome-loop/pkg/predstore"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
	testutils "github.com/sgl-project/ome-loop/pkg/testing"
)

const (
	sweRepo     = "alice/swe-r1"
	agentConfig = `model:
  model_name: hosted_vllm/qwen3-b
environment:
  environment_class: docker
agent:
  step_limit: 40
`
)

func argValue(argv []string, name string) string {
	for i := 0; i < len(argv)-1; i++ {
		if argv[i] == name {
			return argv[i+1]
		}
	}
	return ""
}

func tarNames(archive string) []string {
	f, err := os.Open(archive)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	gz, err := gzip.NewReader(f)
	Expect(err).NotTo(HaveOccurred())
	tr := tar.NewReader(gz)

	var names []string
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return names
		}
		Expect(err).NotTo(HaveOccurred())
		names = append(names, h.Name)
	}
}

func mirrorIDs(path string) []string {
	data, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var rec predstore.MirrorRecord
		Expect(json.Unmarshal([]byte(line), &rec)).To(Succeed())
		ids = append(ids, rec.InstanceID)
	}
	return ids
}

var _ = Describe("Runner", func() {
	var (
		root     string
		sweDir   string
		srv      *hubtest.Server
		rc       *runconfig.Config
		fexec    *fakeexec.FakeExec
		agentLog [][]string
		cleanups int
		configs  map[string]string
		failOn   string
		token    string
	)

	rows := []map[string]interface{}{
		{"instance_id": "astropy__astropy-12907", "problem_statement": "separability matrix"},
		{"instance_id": "django__django-11099", "problem_statement": "username validator", "image_name": "swebench/custom:1"},
		{"instance_id": "sympy__sympy-20590", "problem_statement": "Symbol __dict__"},
	}

	// expectEpisodes queues n agent runs, each followed by a cleanup run.
	expectEpisodes := func(n int) {
		for i := 0; i < n; i++ {
			agent := &fakeexec.FakeCmd{}
			agent.RunScript = []fakeexec.FakeAction{func() ([]byte, []byte, error) {
				argv := agent.Argv
				agentLog = append(agentLog, argv)
				iid := argValue(argv, "--instance-id")
				cfg, err := os.ReadFile(argValue(argv, "--config"))
				Expect(err).NotTo(HaveOccurred())
				configs[iid] = string(cfg)
				if iid == failOn {
					return nil, nil, &fakeexec.FakeExitError{Status: 1}
				}
				res := `{"exit_status":"Submitted","submission":"<think>plan</think>diff --git a/` + iid + `"}`
				return nil, nil, os.WriteFile(argValue(argv, "--output"), []byte(res), 0o644)
			}}
			cleanup := &fakeexec.FakeCmd{}
			cleanup.RunScript = []fakeexec.FakeAction{func() ([]byte, []byte, error) {
				cleanups++
				return nil, nil, &fakeexec.FakeExitError{Status: 2}
			}}
			fexec.CommandScript = append(fexec.CommandScript,
				func(cmd string, args ...string) utilexec.Cmd { return fakeexec.InitFakeCmd(agent, cmd, args...) },
				func(cmd string, args ...string) utilexec.Cmd { return fakeexec.InitFakeCmd(cleanup, cmd, args...) },
			)
		}
	}

	newRunner := func() *Runner {
		t := GinkgoT()
		client := hubsynctest.NewClient(t, srv, token)
		m := metrics.NewMetrics("swe")
		config, err := NewConfig(
			WithAnotherLog(logging.Discard()),
			WithRunConfig(rc),
			WithHub(client, hubsync.NewSyncer(client, logging.Discard(), m)),
			WithExec(common.NewRunner(fexec, logging.Discard(), m)),
			WithFs(aferoutil.NewOsFs()),
			WithMetrics(m),
			WithScratchDir(filepath.Join(root, "scratch")),
		)
		Expect(err).NotTo(HaveOccurred())
		r, err := NewRunner(config)
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		sweDir = filepath.Join(root, "runs", "r1", "swe")
		srv = hubsynctest.NewServer(GinkgoT())
		srv.SetRows("MariusHobbhahn/SWE-bench-verified-mini", "default", "test", rows)
		fexec = &fakeexec.FakeExec{}
		agentLog = nil
		cleanups = 0
		configs = map[string]string{}
		failOn = ""
		token = hubsynctest.Token

		Expect(testutils.WriteTree(root, map[string]string{
			"conf/mini_qwen_thinking.yaml": agentConfig,
		})).To(Succeed())

		var err error
		rc, err = runconfig.NewConfig(
			runconfig.WithHFUsername("alice"),
			runconfig.WithRunID("r1"),
			runconfig.WithRoot(root),
			runconfig.WithRepos(map[string]string{"sweb_dataset": "{user}/swe-{run_id}"}),
		)
		Expect(err).NotTo(HaveOccurred())
		rc.SWE.DatasetRepo = "MariusHobbhahn/SWE-bench-verified-mini"
		rc.SWE.DatasetsBaseURL = srv.URL
		rc.SWE.Agent.Command = []string{"mini-agent", "run"}
		rc.SWE.Agent.CleanupCommand = []string{"mini-agent", "cleanup"}
	})

	Context("on a fresh run", func() {
		It("runs every instance and publishes the artifacts", func() {
			expectEpisodes(3)
			Expect(newRunner().Start(context.Background())).To(Succeed())

			Expect(agentLog).To(HaveLen(3))
			Expect(agentLog[0][:2]).To(Equal([]string{"mini-agent", "run"}))
			Expect(cleanups).To(Equal(3), "cleanup runs after every episode and its failure is ignored")

			Expect(configs["astropy__astropy-12907"]).To(ContainSubstring("environment_class: singularity"))
			Expect(configs["astropy__astropy-12907"]).To(ContainSubstring("image: docker://docker.io/swebench/sweb.eval.x86_64.astropy_1776_astropy-12907:latest"))
			Expect(configs["django__django-11099"]).To(ContainSubstring("image: docker://swebench/custom:1"))

			preds, err := predstore.LoadPredictionsFile(aferoutil.NewOsFs(), filepath.Join(sweDir, "preds.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(preds.IDs()).To(Equal([]string{"astropy__astropy-12907", "django__django-11099", "sympy__sympy-20590"}))
			p, _ := preds.Get("django__django-11099")
			Expect(p).To(Equal(predstore.Prediction{
				ModelNameOrPath: "hosted_vllm/qwen3-b",
				InstanceID:      "django__django-11099",
				ModelPatch:      "<think>plan</think>diff --git a/django__django-11099",
			}))

			progress, err := os.ReadFile(filepath.Join(sweDir, "progress.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(progress)).To(ContainSubstring(`"last_iid": "sympy__sympy-20590"`))
			Expect(string(progress)).To(ContainSubstring(`"status": "Submitted"`))

			Expect(mirrorIDs(filepath.Join(sweDir, "all-preds.jsonl"))).To(Equal(preds.IDs()))

			Expect(srv.Files(hub.RepoTypeDataset, sweRepo)).To(Equal([]string{
				"all-preds.jsonl", "preds.json", "progress.json", "traces.tgz",
			}))
			names := tarNames(filepath.Join(sweDir, "traces.tgz"))
			Expect(names).To(ContainElements("swe/", "swe/preds.json", "swe/all-preds.jsonl",
				"swe/trajs/django__django-11099/result.json"))
			Expect(names).NotTo(ContainElement("swe/traces.tgz"))

			entries, err := os.ReadDir(filepath.Join(root, "scratch"))
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty(), "episode directories are removed")
		})
	})

	Context("when predictions exist on the Hub", func() {
		It("skips instances already predicted and rebuilds the missing mirror", func() {
			srv.CreateRepo(hub.RepoTypeDataset, sweRepo)
			srv.PutFile(hub.RepoTypeDataset, sweRepo, "preds.json", []byte(`{
  "django__django-11099": {"model_name_or_path": "m", "instance_id": "django__django-11099", "model_patch": "old"}
}`))
			expectEpisodes(2)

			Expect(newRunner().Start(context.Background())).To(Succeed())

			Expect(agentLog).To(HaveLen(2))
			Expect(argValue(agentLog[0], "--instance-id")).To(Equal("astropy__astropy-12907"))
			Expect(argValue(agentLog[1], "--instance-id")).To(Equal("sympy__sympy-20590"))

			ids := mirrorIDs(filepath.Join(sweDir, "all-preds.jsonl"))
			Expect(ids).To(Equal([]string{"django__django-11099", "astropy__astropy-12907", "sympy__sympy-20590"}))
		})
	})

	Context("when the local mirror is behind the dictionary", func() {
		It("rebuilds it before running", func() {
			Expect(testutils.WriteTree(sweDir, map[string]string{
				"preds.json": `{
  "astropy__astropy-12907": {"model_name_or_path": "m", "instance_id": "astropy__astropy-12907", "model_patch": "a"},
  "django__django-11099": {"model_name_or_path": "m", "instance_id": "django__django-11099", "model_patch": "b"}
}`,
				"all-preds.jsonl": `{"instance_id":"astropy__astropy-12907","model_name_or_path":"m","model_patch":"a"}` + "\n",
			})).To(Succeed())
			expectEpisodes(1)

			Expect(newRunner().Start(context.Background())).To(Succeed())

			Expect(agentLog).To(HaveLen(1))
			Expect(mirrorIDs(filepath.Join(sweDir, "all-preds.jsonl"))).To(Equal(
				[]string{"astropy__astropy-12907", "django__django-11099", "sympy__sympy-20590"}))
		})
	})

	Context("when every instance is done", func() {
		It("only uploads the traces", func() {
			Expect(testutils.WriteTree(sweDir, map[string]string{
				"preds.json": `{
  "astropy__astropy-12907": {"model_name_or_path": "m", "instance_id": "astropy__astropy-12907", "model_patch": "a"},
  "django__django-11099": {"model_name_or_path": "m", "instance_id": "django__django-11099", "model_patch": "b"},
  "sympy__sympy-20590": {"model_name_or_path": "m", "instance_id": "sympy__sympy-20590", "model_patch": "c"}
}`,
			})).To(Succeed())

			Expect(newRunner().Start(context.Background())).To(Succeed())
			Expect(fexec.CommandCalls).To(BeZero())
			Expect(srv.Files(hub.RepoTypeDataset, sweRepo)).To(ContainElement("traces.tgz"))
			Expect(mirrorIDs(filepath.Join(sweDir, "all-preds.jsonl"))).To(HaveLen(3))
		})
	})

	Context("when the agent fails", func() {
		It("cleans up and stops with the instance id", func() {
			failOn = "django__django-11099"
			expectEpisodes(2)

			err := newRunner().Start(context.Background())
			Expect(err).To(MatchError(ContainSubstring("agent failed on django__django-11099: agent exited with status 1")))
			Expect(cleanups).To(Equal(2))

			preds, err := predstore.LoadPredictionsFile(aferoutil.NewOsFs(), filepath.Join(sweDir, "preds.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(preds.IDs()).To(Equal([]string{"astropy__astropy-12907"}))
			Expect(srv.Files(hub.RepoTypeDataset, sweRepo)).NotTo(ContainElement("traces.tgz"))
		})
	})

	Context("with a local dataset file", func() {
		It("reads instances from it instead of the rows API", func() {
			Expect(testutils.WriteTree(root, map[string]string{
				"data/mini.jsonl": `{"instance_id":"pylint__pylint-7080","problem_statement":"recursive ignore"}` + "\n",
			})).To(Succeed())
			rc.SWE.DatasetFile = filepath.Join(root, "data", "mini.jsonl")
			expectEpisodes(1)

			Expect(newRunner().Start(context.Background())).To(Succeed())
			Expect(agentLog).To(HaveLen(1))
			Expect(argValue(agentLog[0], "--instance-id")).To(Equal("pylint__pylint-7080"))
		})
	})

	DescribeTable("fails before running any agent",
		func(mutate func(), want string) {
			mutate()
			err := newRunner().Start(context.Background())
			Expect(err).To(MatchError(ContainSubstring(want)))
			Expect(fexec.CommandCalls).To(BeZero())
		},
		Entry("dataset is not the mini subset", func() { rc.SWE.DatasetRepo = "princeton-nlp/SWE-bench_Verified" }, "mini subset"),
		Entry("no token", func() { token = "" }, hubsync.ErrMissingToken.Error()),
		Entry("no agent command", func() { rc.SWE.Agent.Command = nil }, "swe.agent.command is not configured"),
		Entry("no dataset repo", func() { rc.ReposFmt = map[string]string{} }, "repos.sweb_dataset is not configured"),
		Entry("agent config missing", func() { rc.SWE.Agent.ConfigFile = "conf/missing.yaml" }, "reading agent config"),
	)
})
