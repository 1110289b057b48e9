package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/lbench/internal/backend"
	"github.com/angeloszaimis/lbench/internal/strategy"
)

var _ = Describe("Roundrobin", func() {
	var (
		strat    strategy.Strategy
		backends []*backend.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewRoundRobinStrategy()
		backends = newBackends(1, 1, 1)
	})

	Describe("SelectBackend", func() {
		Context("with a stable candidate set", func() {
			It("should cycle through backends in order", func() {
				var order []*backend.Backend
				for i := 0; i < 9; i++ {
					order = append(order, strat.SelectBackend(nil, backends))
				}

				a, b, c := backends[0], backends[1], backends[2]
				Expect(order).To(Equal([]*backend.Backend{a, b, c, a, b, c, a, b, c}))
			})

			It("should distribute load evenly", func() {
				counts := make(map[string]int)
				for i := 0; i < 300; i++ {
					selected := strat.SelectBackend(nil, backends)
					counts[selected.Address()]++
				}
				Expect(counts["localhost:8081"]).To(Equal(100))
				Expect(counts["localhost:8082"]).To(Equal(100))
				Expect(counts["localhost:8083"]).To(Equal(100))
			})

			It("should keep every backend within floor and ceil of N/K", func() {
				counts := make(map[*backend.Backend]int)
				for i := 0; i < 10; i++ {
					counts[strat.SelectBackend(nil, backends)]++
				}
				for _, b := range backends {
					Expect(counts[b]).To(BeNumerically(">=", 3))
					Expect(counts[b]).To(BeNumerically("<=", 4))
				}
			})
		})

		Context("when the candidate set shrinks", func() {
			It("should only pick from the current candidates", func() {
				strat.SelectBackend(nil, backends)

				reduced := []*backend.Backend{backends[0], backends[2]}
				for i := 0; i < 10; i++ {
					Expect(reduced).To(ContainElement(strat.SelectBackend(nil, reduced)))
				}
			})
		})

		Context("with empty backend list", func() {
			It("should return nil", func() {
				Expect(strat.SelectBackend(nil, []*backend.Backend{})).To(BeNil())
			})
		})
	})
})
