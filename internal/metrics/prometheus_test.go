package metrics

import (
	"net/url"
	"time"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angeloszaimis/lbench/internal/backend"
)

var _ = ginkgo.Describe("promMirror", func() {
	var (
		agg  *Aggregator
		addr string
	)

	ginkgo.BeforeEach(func() {
		u, err := url.Parse("http://127.0.0.1:9091")
		Expect(err).NotTo(HaveOccurred())
		b := backend.New(u, 1)
		agg = NewAggregator(backend.NewRegistry(b), "round-robin")
		addr = b.Address()
	})

	ginkgo.It("should follow active connections", func() {
		agg.RecordStart(0)
		Expect(testutil.ToFloat64(agg.prom.active.WithLabelValues(addr))).To(Equal(1.0))

		agg.RecordEnd(0, false, 20*time.Millisecond)
		Expect(testutil.ToFloat64(agg.prom.active.WithLabelValues(addr))).To(Equal(0.0))
		Expect(testutil.ToFloat64(agg.prom.requests.WithLabelValues(addr, "failure"))).To(Equal(1.0))
		Expect(testutil.CollectAndCount(agg.prom.duration)).To(Equal(1))
	})

	ginkgo.It("should publish health transitions", func() {
		Expect(testutil.ToFloat64(agg.prom.health.WithLabelValues(addr))).To(Equal(0.0))

		agg.ObserveHealth(agg.registry.Get(0), backend.StatusUnhealthy)
		Expect(testutil.ToFloat64(agg.prom.health.WithLabelValues(addr))).To(Equal(2.0))
	})

	ginkgo.It("should count rejections by reason", func() {
		agg.RecordRejected(RejectUnavailable)
		agg.RecordRejected(RejectUnavailable)

		Expect(testutil.ToFloat64(agg.prom.rejected.WithLabelValues("unavailable"))).To(Equal(2.0))
	})
})
