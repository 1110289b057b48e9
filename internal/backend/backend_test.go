package backend_test

import (
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/lbench/internal/backend"
)

var _ = Describe("Backend", func() {
	var (
		testURL *url.URL
		b       *backend.Backend
	)

	BeforeEach(func() {
		var err error
		testURL, err = url.Parse("http://localhost:8081")
		Expect(err).NotTo(HaveOccurred())
		b = backend.New(testURL, 3)
	})

	Describe("New", func() {
		It("should create a backend with the correct URL and address", func() {
			Expect(b.URL()).To(Equal(testURL))
			Expect(b.Address()).To(Equal("localhost:8081"))
		})

		It("should start healthy with zeroed counters", func() {
			Expect(b.Status()).To(Equal(backend.StatusHealthy))
			Expect(b.Stats()).To(Equal(backend.Stats{}))
		})

		It("should keep an explicit weight", func() {
			Expect(b.Weight()).To(Equal(3))
		})

		It("should assign a random weight between 1 and 10 when unset", func() {
			for i := 0; i < 50; i++ {
				w := backend.New(testURL, 0).Weight()
				Expect(w).To(BeNumerically(">=", backend.MinRandomWeight))
				Expect(w).To(BeNumerically("<=", backend.MaxRandomWeight))
			}
		})

		It("should be unregistered until added to a registry", func() {
			Expect(b.ID()).To(Equal(-1))
		})
	})

	Describe("Health Management", func() {
		It("should report whether the status changed", func() {
			Expect(b.SetStatus(backend.StatusSuspected)).To(BeTrue())
			Expect(b.SetStatus(backend.StatusSuspected)).To(BeFalse())
			Expect(b.Status()).To(Equal(backend.StatusSuspected))
		})

		It("should treat suspected backends as routable", func() {
			b.SetStatus(backend.StatusSuspected)
			Expect(b.IsRoutable()).To(BeTrue())

			b.SetStatus(backend.StatusUnhealthy)
			Expect(b.IsRoutable()).To(BeFalse())
		})

		It("should render status names", func() {
			Expect(backend.StatusHealthy.String()).To(Equal("HEALTHY"))
			Expect(backend.StatusSuspected.String()).To(Equal("SUSPECTED"))
			Expect(backend.StatusUnhealthy.String()).To(Equal("UNHEALTHY"))
			Expect(backend.Status(42).String()).To(Equal("UNKNOWN"))
		})
	})

	Describe("Connection Tracking", func() {
		It("should not go below zero", func() {
			b.AdjustActive(-1)
			Expect(b.ActiveConnections()).To(Equal(int64(0)))
		})

		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.AdjustActive(1)
				}()
			}
			wg.Wait()
			Expect(b.ActiveConnections()).To(Equal(int64(100)))
		})
	})

	Describe("Complete", func() {
		It("should release the connection and count the outcome together", func() {
			b.AdjustActive(1)
			b.AdjustActive(1)

			b.Complete(true)
			b.Complete(false)

			Expect(b.Stats()).To(Equal(backend.Stats{Active: 0, Total: 2, Success: 1}))
		})

		It("should keep active equal to started minus completed under concurrency", func() {
			var wg sync.WaitGroup
			for i := 0; i < 200; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					b.AdjustActive(1)
					b.Complete(i%2 == 0)
				}(i)
			}
			wg.Wait()

			stats := b.Stats()
			Expect(stats.Active).To(Equal(int64(0)))
			Expect(stats.Total).To(Equal(uint64(200)))
			Expect(stats.Success).To(Equal(uint64(100)))
		})
	})
})
