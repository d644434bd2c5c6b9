// Package serving manages the local OpenAI-compatible model server the
// benchmark agent talks to.
package serving

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/logging"
)

var ssPIDPattern = regexp.MustCompile(`pid=(\d+)`)

type Server struct {
	logger logging.Interface
	config Config
}

func NewServer(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("serving config invalid: %w", err)
	}
	return &Server{logger: config.AnotherLogger, config: *config}, nil
}

func (s *Server) probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// WaitReady polls /v1/models on port until it answers 200.
func (s *Server) WaitReady(ctx context.Context, port int) error {
	url := fmt.Sprintf(constants.ServingModelsPathFormat, port)
	s.logger.WithField("url", url).Info("Waiting for model server")

	err := wait.PollUntilContextTimeout(ctx, s.config.PollInterval, s.config.ReadyTimeout, true,
		func(ctx context.Context) (bool, error) {
			return s.probe(ctx, url), nil
		})
	if err != nil {
		return errors.Wrapf(err, "vLLM server not ready on port %d", port)
	}
	s.logger.WithField("url", url).Info("Model server ready")
	return nil
}

// ParsePIDs reads one pid per line, ignoring anything else.
func ParsePIDs(out []byte) []int {
	found := sets.New[int]()
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if pid, err := strconv.Atoi(strings.TrimSpace(sc.Text())); err == nil && pid > 0 {
			found.Insert(pid)
		}
	}
	return sets.List(found)
}

// ParseSSPIDs extracts the pid=N fields of `ss -lptn` output.
func ParseSSPIDs(out []byte) []int {
	found := sets.New[int]()
	for _, m := range ssPIDPattern.FindAllSubmatch(out, -1) {
		if pid, err := strconv.Atoi(string(m[1])); err == nil && pid > 0 {
			found.Insert(pid)
		}
	}
	return sets.List(found)
}

func (s *Server) listeners(ctx context.Context, port int) ([]int, error) {
	out, lsofErr := s.config.Runner.Output(ctx, common.Command{
		Argv: []string{"lsof", "-ti", fmt.Sprintf(":%d", port)},
	})
	if lsofErr == nil {
		return ParsePIDs(out), nil
	}
	s.logger.WithError(lsofErr).Debug("lsof failed, falling back to ss")

	out, err := s.config.Runner.Output(ctx, common.Command{
		Argv: []string{"ss", "-lptn", fmt.Sprintf("sport = :%d", port)},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing listeners on port %d", port)
	}
	return ParseSSPIDs(out), nil
}

// KillPort sends SIGKILL to every process listening on port and returns
// the pids signalled.
func (s *Server) KillPort(ctx context.Context, port int) ([]int, error) {
	pids, err := s.listeners(ctx, port)
	if err != nil {
		return nil, err
	}
	var killed []int
	for _, pid := range pids {
		if err := s.config.Kill(pid); err != nil {
			s.logger.WithError(err).WithField("pid", pid).Warn("Could not kill process")
			continue
		}
		killed = append(killed, pid)
	}
	s.logger.WithField("port", port).WithField("pids", killed).Info("Killed listeners")
	return killed, nil
}
