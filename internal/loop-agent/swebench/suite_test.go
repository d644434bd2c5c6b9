package swebench

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSWEBenchRunner(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SWE-bench Runner Suite")
}
