package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/angeloszaimis/lbench/config"
)

const validConfig = `
server:
  address: ":8080"
  environment: "dev"
  shutdown_grace: "3s"

health_check:
  interval: "10s"
  timeout: "500ms"
  path: "/healthz"
  unhealthy_threshold: 3

strategy:
  type: "weighted-round-robin"

backends:
  - address: "localhost:8081"
    weight: 3
  - address: "http://localhost:8082"
    weight: 1

router:
  concurrency_limit: 50
  max_attempts: 3

logging:
  level: "debug"
`

var _ = Describe("Config", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	writeConfig := func(content string) string {
		path := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
		return path
	}

	flagsFor := func(args ...string) *pflag.FlagSet {
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		config.RegisterFlags(flags)
		Expect(flags.Parse(args)).To(Succeed())
		return flags
	}

	Describe("Load", func() {
		Context("with valid config file", func() {
			var cfg *config.Config

			BeforeEach(func() {
				path := writeConfig(validConfig)

				var err error
				cfg, err = config.Load(flagsFor("--config", path))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should parse server settings", func() {
				Expect(cfg.Server.Address).To(Equal(":8080"))
				Expect(cfg.Server.ShutdownGraceDuration()).To(Equal(3 * time.Second))
			})

			It("should parse strategy correctly", func() {
				Expect(cfg.Strategy.Type).To(Equal("weighted-round-robin"))
				Expect(cfg.Strategy.VirtualNodes).To(BeZero())
			})

			It("should parse health check settings and keep unset defaults", func() {
				Expect(cfg.HealthCheck.IntervalDuration()).To(Equal(10 * time.Second))
				Expect(cfg.HealthCheck.TimeoutDuration()).To(Equal(500 * time.Millisecond))
				Expect(cfg.HealthCheck.Path).To(Equal("/healthz"))
				Expect(cfg.HealthCheck.SuspectThreshold).To(Equal(1))
				Expect(cfg.HealthCheck.UnhealthyThreshold).To(Equal(3))
				Expect(cfg.HealthCheck.HealthyThreshold).To(Equal(1))
			})

			It("should parse backends in order", func() {
				Expect(cfg.Backends).To(HaveLen(2))
				Expect(cfg.Backends[0].Weight).To(Equal(3))

				u, err := cfg.Backends[0].URL()
				Expect(err).NotTo(HaveOccurred())
				Expect(u.String()).To(Equal("http://localhost:8081"))

				u, err = cfg.Backends[1].URL()
				Expect(err).NotTo(HaveOccurred())
				Expect(u.Host).To(Equal("localhost:8082"))
			})

			It("should merge router settings with defaults", func() {
				Expect(cfg.Router.ConcurrencyLimit).To(Equal(50))
				Expect(cfg.Router.MaxAttempts).To(Equal(3))
				Expect(cfg.Router.QueueDepth).To(Equal(1000))
				Expect(cfg.Router.AttemptTimeoutDuration()).To(Equal(5 * time.Second))
				Expect(cfg.Router.MaxBodyBytes).To(Equal(int64(10 << 20)))
				Expect(cfg.Metrics.ReportIntervalDuration()).To(Equal(5 * time.Second))
			})
		})

		Context("with flags", func() {
			It("should let flags override the file", func() {
				path := writeConfig(validConfig)

				cfg, err := config.Load(flagsFor(
					"--config", path,
					"--port", "9090",
					"--algorithm", "ip-hash",
					"--backends", "10.0.0.1:7001=4,10.0.0.2:7002",
				))
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Address).To(Equal(":9090"))
				Expect(cfg.Strategy.Type).To(Equal("ip-hash"))
				Expect(cfg.Backends).To(Equal([]config.BackendConfig{
					{Address: "10.0.0.1:7001", Weight: 4},
					{Address: "10.0.0.2:7002", Weight: 0},
				}))
			})

			It("should run on defaults plus flags without a config file", func() {
				wd, err := os.Getwd()
				Expect(err).NotTo(HaveOccurred())
				Expect(os.Chdir(tempDir)).To(Succeed())
				DeferCleanup(os.Chdir, wd)

				cfg, err := config.Load(flagsFor("--backends", "127.0.0.1:8001"))
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Address).To(Equal(":8000"))
				Expect(cfg.Strategy.Type).To(Equal("round-robin"))
				Expect(cfg.HealthCheck.IntervalDuration()).To(Equal(2 * time.Second))
			})
		})

		Context("with environment variables", func() {
			It("should let the environment override the file", func() {
				path := writeConfig(validConfig)
				GinkgoT().Setenv("STRATEGY_TYPE", "least-connections")
				GinkgoT().Setenv("LOGGING_LEVEL", "warn")

				cfg, err := config.Load(flagsFor("--config", path))
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Strategy.Type).To(Equal("least-connections"))
				Expect(cfg.Logging.Level).To(Equal("warn"))
			})
		})

		Context("with invalid configuration", func() {
			DescribeTable("should fail with ErrInvalidConfig",
				func(args ...string) {
					path := writeConfig(validConfig)
					_, err := config.Load(flagsFor(append([]string{"--config", path}, args...)...))
					Expect(err).To(MatchError(config.ErrInvalidConfig))
				},
				Entry("unknown algorithm", "--algorithm", "random"),
				Entry("port out of range", "--port", "70000"),
				Entry("backend without port", "--backends", "localhost"),
				Entry("backend with bad scheme", "--backends", "ftp://localhost:21"),
				Entry("backend with bad weight", "--backends", "localhost:8081=heavy"),
			)

			It("should reject an empty backend list", func() {
				path := writeConfig("server:\n  address: \":8080\"\n")
				_, err := config.Load(flagsFor("--config", path))
				Expect(err).To(MatchError(config.ErrInvalidConfig))
			})

			It("should reject a bad duration", func() {
				path := writeConfig(validConfig + "\nmetrics:\n  report_interval: \"soon\"\n")
				_, err := config.Load(flagsFor("--config", path))
				Expect(err).To(MatchError(config.ErrInvalidConfig))
			})

			It("should fail when the named config file is missing", func() {
				_, err := config.Load(flagsFor("--config", filepath.Join(tempDir, "missing.yaml")))
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
