package tick

import (
	gomock "go.uber.org/mock/gomock"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("EventSchedule", func() {
	var (
		mockCtrl *gomock.Controller
		schedule *EventSchedule
	)

	ginkgo.BeforeEach(func() {
		mockCtrl = gomock.NewController(ginkgo.GinkgoT())
		schedule = NewEventSchedule(nil)
	})

	ginkgo.AfterEach(func() {
		mockCtrl.Finish()
	})

	ginkgo.It("should fire a one-shot event exactly once, at its trigger tick", func() {
		var firedAt []uint64
		schedule.Schedule("payday", 5, func(now uint64) {
			firedAt = append(firedAt, now)
		})

		for t := uint64(1); t <= 10; t++ {
			schedule.ProcessDue(t)
		}

		Expect(firedAt).To(Equal([]uint64{5}))
		Expect(schedule.Len()).To(Equal(0))
	})

	ginkgo.It("should fire an overdue event on the next processed tick", func() {
		var firedAt []uint64
		schedule.Schedule("late", 3, func(now uint64) {
			firedAt = append(firedAt, now)
		})

		schedule.ProcessDue(7)

		Expect(firedAt).To(Equal([]uint64{7}))
	})

	ginkgo.It("should fire a recurring event at N, N+k, N+2k", func() {
		var firedAt []uint64
		schedule.ScheduleRecurring("rent", 2, 3, func(now uint64) {
			firedAt = append(firedAt, now)
		})

		for t := uint64(1); t <= 9; t++ {
			schedule.ProcessDue(t)
		}

		Expect(firedAt).To(Equal([]uint64{2, 5, 8}))
		Expect(schedule.Len()).To(Equal(1))
	})

	ginkgo.It("should treat a recurring event without an interval as one-shot", func() {
		fired := 0
		schedule.ScheduleRecurring("once", 2, 0, func(uint64) { fired++ })

		for t := uint64(1); t <= 5; t++ {
			schedule.ProcessDue(t)
		}

		Expect(fired).To(Equal(1))
		Expect(schedule.Len()).To(Equal(0))
	})

	ginkgo.It("should stop a recurring event when cancelled", func() {
		fired := 0
		schedule.ScheduleRecurring("rent", 1, 1, func(uint64) { fired++ })

		schedule.ProcessDue(1)
		schedule.ProcessDue(2)
		Expect(schedule.Cancel("rent")).To(BeTrue())
		schedule.ProcessDue(3)

		Expect(fired).To(Equal(2))
	})

	ginkgo.It("should not fire an event cancelled before its trigger tick", func() {
		fired := false
		schedule.Schedule("payday", 5, func(uint64) { fired = true })

		Expect(schedule.Cancel("payday")).To(BeTrue())
		schedule.ProcessDue(5)

		Expect(fired).To(BeFalse())
	})

	ginkgo.It("should replace an event scheduled with the same id", func() {
		var firedAt []uint64
		schedule.Schedule("payday", 3, func(now uint64) {
			firedAt = append(firedAt, now)
		})
		schedule.Schedule("payday", 6, func(now uint64) {
			firedAt = append(firedAt, now)
		})

		for t := uint64(1); t <= 10; t++ {
			schedule.ProcessDue(t)
		}

		Expect(firedAt).To(Equal([]uint64{6}))
	})

	ginkgo.It("should fire same-tick events in insertion order", func() {
		var order []string
		for _, id := range []string{"a", "b", "c", "d"} {
			id := id
			schedule.Schedule(id, 4, func(uint64) {
				order = append(order, id)
			})
		}

		schedule.ProcessDue(4)

		Expect(order).To(Equal([]string{"a", "b", "c", "d"}))
	})

	ginkgo.It("should report a panicking callback and keep firing the rest", func() {
		sink := NewMockErrorSink(mockCtrl)
		schedule = NewEventSchedule(sink)

		sink.EXPECT().Report(gomock.Any()).Do(func(r Report) {
			Expect(r.Category).To(Equal(SchedulerError))
			Expect(r.Context["event_id"]).To(Equal("bad"))
		})

		fired := false
		schedule.Schedule("bad", 1, func(uint64) { panic("boom") })
		schedule.Schedule("good", 1, func(uint64) { fired = true })

		schedule.ProcessDue(1)

		Expect(fired).To(BeTrue())
	})

	ginkgo.It("should report the next trigger tick of a pending event", func() {
		schedule.Schedule("payday", 5, func(uint64) {})

		tick, ok := schedule.Pending("payday")
		Expect(ok).To(BeTrue())
		Expect(tick).To(Equal(uint64(5)))

		_, ok = schedule.Pending("unknown")
		Expect(ok).To(BeFalse())
	})
})
