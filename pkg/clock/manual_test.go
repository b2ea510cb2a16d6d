package clock_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/backtesting-org/trading-node/pkg/clock"
)

var _ = Describe("ManualClock", func() {
	var (
		start time.Time
		clk   *clock.ManualClock
	)

	BeforeEach(func() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		clk = clock.NewManualClock(start)
	})

	It("only moves on Advance", func() {
		Expect(clk.Now()).To(Equal(start))
		clk.Advance(3 * time.Second)
		Expect(clk.Since(start)).To(Equal(3 * time.Second))
	})

	It("fires timers once their deadline is reached", func() {
		ch := clk.After(5 * time.Second)
		Expect(clk.Pending()).To(Equal(1))

		clk.Advance(4 * time.Second)
		Consistently(ch, 20*time.Millisecond).ShouldNot(Receive())

		clk.Advance(time.Second)
		Eventually(ch).Should(Receive(Equal(start.Add(5 * time.Second))))
		Expect(clk.Pending()).To(BeZero())
	})

	It("fires immediately for non-positive durations", func() {
		Eventually(clk.After(0)).Should(Receive())
	})

	It("removes stopped timers", func() {
		t := clk.NewTimer(time.Second)
		Expect(t.Stop()).To(BeTrue())
		Expect(clk.Pending()).To(BeZero())
		Expect(t.Stop()).To(BeFalse())
	})

	It("re-arms tickers each period", func() {
		tk := clk.NewTicker(time.Second)
		defer tk.Stop()

		clk.Advance(time.Second)
		Eventually(tk.C()).Should(Receive())
		clk.Advance(time.Second)
		Eventually(tk.C()).Should(Receive())
		Expect(clk.Pending()).To(Equal(1))
	})

	It("unblocks BlockUntil when enough timers are armed", func() {
		released := make(chan struct{})
		go func() {
			clk.BlockUntil(2)
			close(released)
		}()

		clk.After(time.Second)
		Consistently(released, 20*time.Millisecond).ShouldNot(BeClosed())
		clk.After(time.Second)
		Eventually(released).Should(BeClosed())
	})
})

var _ = Describe("WithTimeout", func() {
	var clk *clock.ManualClock

	BeforeEach(func() {
		clk = clock.NewManualClock(time.Unix(0, 0))
	})

	It("cancels with ErrDeadlineExceeded when the clock passes the deadline", func() {
		ctx, cancel := clock.WithTimeout(context.Background(), clk, 5*time.Second)
		defer cancel()

		clk.BlockUntil(1)
		clk.Advance(5 * time.Second)

		Eventually(ctx.Done()).Should(BeClosed())
		Expect(clock.DeadlineExceeded(ctx)).To(BeTrue())
		Expect(errors.Is(context.Cause(ctx), clock.ErrDeadlineExceeded)).To(BeTrue())
	})

	It("propagates parent cancellation without reporting a deadline", func() {
		parent, cancelParent := context.WithCancel(context.Background())
		ctx, cancel := clock.WithTimeout(parent, clk, time.Minute)
		defer cancel()

		cancelParent()
		Eventually(ctx.Done()).Should(BeClosed())
		Expect(clock.DeadlineExceeded(ctx)).To(BeFalse())
	})

	It("releases its timer when cancelled", func() {
		_, cancel := clock.WithTimeout(context.Background(), clk, time.Minute)
		clk.BlockUntil(1)
		cancel()
		Eventually(clk.Pending).Should(BeZero())
	})
})
