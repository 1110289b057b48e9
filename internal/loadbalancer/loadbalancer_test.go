package loadbalancer_test

import (
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/lbench/internal/backend"
	"github.com/angeloszaimis/lbench/internal/loadbalancer"
	"github.com/angeloszaimis/lbench/internal/strategy"
)

var _ = Describe("LoadBalancer", func() {
	var (
		lb       *loadbalancer.LoadBalancer
		reg      *backend.Registry
		backends []*backend.Backend
	)

	BeforeEach(func() {
		backends = []*backend.Backend{
			backend.New(mustParseURL("http://localhost:8081"), 1),
			backend.New(mustParseURL("http://localhost:8082"), 1),
			backend.New(mustParseURL("http://localhost:8083"), 1),
		}
		reg = backend.NewRegistry(backends...)
		lb = loadbalancer.NewLoadBalancer(reg, strategy.RoundRobin, strategy.NewRoundRobinStrategy())
	})

	It("should expose the algorithm name and registry", func() {
		Expect(lb.Algorithm()).To(Equal(strategy.RoundRobin))
		Expect(lb.Registry()).To(BeIdenticalTo(reg))
	})

	Describe("Select", func() {
		Context("with all healthy backends", func() {
			It("should rotate across every backend", func() {
				Expect(lb.Select(nil, nil)).To(Equal(backends[0]))
				Expect(lb.Select(nil, nil)).To(Equal(backends[1]))
				Expect(lb.Select(nil, nil)).To(Equal(backends[2]))
			})

			It("should not reserve a connection", func() {
				selected := lb.Select(nil, nil)
				Expect(selected.ActiveConnections()).To(Equal(int64(0)))
			})
		})

		Context("when a backend becomes unhealthy", func() {
			It("should exclude it on the very next selection", func() {
				Expect(lb.Select(nil, nil)).To(Equal(backends[0]))

				reg.SetHealth(1, backend.StatusUnhealthy)
				for i := 0; i < 10; i++ {
					Expect(lb.Select(nil, nil)).NotTo(Equal(backends[1]))
				}

				reg.SetHealth(1, backend.StatusHealthy)
				seen := map[*backend.Backend]bool{}
				for i := 0; i < 3; i++ {
					seen[lb.Select(nil, nil)] = true
				}
				Expect(seen).To(HaveKey(backends[1]))
			})

			It("should keep routing to suspected backends", func() {
				reg.SetHealth(0, backend.StatusSuspected)
				Expect(lb.Select(nil, nil)).To(Equal(backends[0]))
			})
		})

		Context("with no healthy backends", func() {
			BeforeEach(func() {
				for _, b := range backends {
					reg.SetHealth(b.ID(), backend.StatusUnhealthy)
				}
			})

			It("should return nil", func() {
				Expect(lb.Select(nil, nil)).To(BeNil())
			})
		})

		Context("with tried backends", func() {
			It("should not advance the rotation on a retry", func() {
				Expect(lb.Select(nil, nil)).To(Equal(backends[0]))
				Expect(lb.Select(nil, map[int]struct{}{0: {}})).To(Equal(backends[1]))
				Expect(lb.Select(nil, nil)).To(Equal(backends[1]))
				Expect(lb.Select(nil, nil)).To(Equal(backends[2]))
			})

			It("should skip backends already tried", func() {
				tried := map[int]struct{}{0: {}, 1: {}}
				for i := 0; i < 5; i++ {
					Expect(lb.Select(nil, tried)).To(Equal(backends[2]))
				}
			})

			It("should fall back to tried backends when nothing else is routable", func() {
				reg.SetHealth(2, backend.StatusUnhealthy)
				tried := map[int]struct{}{0: {}, 1: {}}
				Expect([]*backend.Backend{backends[0], backends[1]}).To(ContainElement(lb.Select(nil, tried)))
			})
		})

		Context("with weighted-round-robin and retries", func() {
			BeforeEach(func() {
				backends = []*backend.Backend{
					backend.New(mustParseURL("http://localhost:8081"), 1),
					backend.New(mustParseURL("http://localhost:8082"), 2),
					backend.New(mustParseURL("http://localhost:8083"), 3),
				}
				reg = backend.NewRegistry(backends...)
				lb = loadbalancer.NewLoadBalancer(reg, strategy.WeightedRoundRobin, strategy.NewWeightedRoundRobinStrategy())
			})

			It("should keep first attempts at each backend's weight share", func() {
				heavy := backends[2]
				firsts := map[*backend.Backend]int{}
				retries := map[*backend.Backend]int{}

				for i := 0; i < 600; i++ {
					b := lb.Select(nil, nil)
					firsts[b]++

					if b == heavy {
						retry := lb.Select(nil, map[int]struct{}{heavy.ID(): {}})
						Expect(retry).NotTo(Equal(heavy))
						retries[retry]++
					}
				}

				Expect(firsts[backends[0]]).To(Equal(100))
				Expect(firsts[backends[1]]).To(Equal(200))
				Expect(firsts[backends[2]]).To(Equal(300))
				Expect(retries[backends[0]] + retries[backends[1]]).To(Equal(300))
			})
		})

		Context("with the ip-hash ring and retries", func() {
			BeforeEach(func() {
				lb = loadbalancer.NewLoadBalancer(reg, strategy.IPHash, strategy.NewConsistentHashStrategy(50))
			})

			It("should move only the tried owner and keep the client's mapping", func() {
				rc := &strategy.RoutingContext{ClientAddr: "10.0.0.7"}
				owner := lb.Select(rc, nil)
				Expect(owner).NotTo(BeNil())

				retry := lb.Select(rc, map[int]struct{}{owner.ID(): {}})
				Expect(retry).NotTo(BeNil())
				Expect(retry).NotTo(Equal(owner))

				Expect(lb.Select(rc, map[int]struct{}{owner.ID(): {}})).To(Equal(retry))
				Expect(lb.Select(rc, nil)).To(Equal(owner))
			})
		})

		Context("with ip-hash", func() {
			BeforeEach(func() {
				lb = loadbalancer.NewLoadBalancer(reg, strategy.IPHash, strategy.NewIPHashStrategy())
			})

			It("should select backend based on client address", func() {
				rc := &strategy.RoutingContext{ClientAddr: "192.168.1.1"}
				first := lb.Select(rc, nil)
				Expect(first).NotTo(BeNil())
				Expect(lb.Select(rc, nil)).To(Equal(first))
			})
		})
	})
})

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
