package strategy_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/lbench/internal/strategy"
)

var _ = Describe("Table-Driven Strategy Tests", func() {
	DescribeTable("New builds every supported strategy",
		func(name string, opts strategy.Options) {
			strat, err := strategy.New(name, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(strat).NotTo(BeNil())
		},
		Entry("Round Robin", strategy.RoundRobin, strategy.Options{}),
		Entry("Least Connections", strategy.LeastConnections, strategy.Options{}),
		Entry("Weighted Round Robin", strategy.WeightedRoundRobin, strategy.Options{}),
		Entry("IP Hash", strategy.IPHash, strategy.Options{}),
		Entry("IP Hash ring", strategy.IPHash, strategy.Options{VirtualNodes: 50}),
	)

	DescribeTable("New rejects unknown names",
		func(name string) {
			strat, err := strategy.New(name, strategy.Options{})
			Expect(strat).To(BeNil())
			Expect(errors.Is(err, strategy.ErrUnknownStrategy)).To(BeTrue())
		},
		Entry("empty", ""),
		Entry("mixed case", "Round-Robin"),
		Entry("abbreviated name", "least-conn"),
		Entry("garbage", "!!invalid!!"),
	)

	DescribeTable("All strategies select from the given candidates",
		func(name string) {
			strat, err := strategy.New(name, strategy.Options{})
			Expect(err).NotTo(HaveOccurred())

			backends := newBackends(1, 2, 3)
			for i := 0; i < 30; i++ {
				Expect(backends).To(ContainElement(strat.SelectBackend(client("10.1.1.1"), backends)))
			}
			Expect(strat.SelectBackend(client("10.1.1.1"), nil)).To(BeNil())
		},
		Entry("Round Robin", strategy.RoundRobin),
		Entry("Least Connections", strategy.LeastConnections),
		Entry("Weighted Round Robin", strategy.WeightedRoundRobin),
		Entry("IP Hash", strategy.IPHash),
	)
})
