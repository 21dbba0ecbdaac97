package recycle

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Controller", func() {
	var ctrl *Controller

	BeforeEach(func() {
		ctrl = NewController()
	})

	It("should start idle without a capture", func() {
		Expect(ctrl.State()).To(Equal(Idle))
		Expect(ctrl.Current()).To(BeNil())
	})

	Describe("a full cycle", func() {
		It("should walk through every state and end idle with the capture", func() {
			cycle, ok := ctrl.Begin()
			Expect(ok).To(BeTrue())
			Expect(ctrl.State()).To(Equal(Capturing))

			Expect(ctrl.Advance(cycle, AwaitingDetection)).To(BeTrue())
			Expect(ctrl.State()).To(Equal(AwaitingDetection))

			Expect(ctrl.Advance(cycle, Rendering)).To(BeTrue())
			Expect(ctrl.State()).To(Equal(Rendering))

			capture := &Capture{ID: "c1"}
			Expect(ctrl.Complete(cycle, capture)).To(BeTrue())
			Expect(ctrl.State()).To(Equal(Idle))
			Expect(ctrl.Current()).To(BeIdenticalTo(capture))
		})
	})

	Describe("Begin", func() {
		It("should be refused while a cycle is running", func() {
			_, ok := ctrl.Begin()
			Expect(ok).To(BeTrue())

			_, ok = ctrl.Begin()
			Expect(ok).To(BeFalse())
			Expect(ctrl.State()).To(Equal(Capturing))
		})

		It("should drop the previous capture", func() {
			cycle, _ := ctrl.Begin()
			ctrl.Complete(cycle, &Capture{ID: "c1"})

			_, ok := ctrl.Begin()
			Expect(ok).To(BeTrue())
			Expect(ctrl.Current()).To(BeNil())
		})
	})

	Describe("Advance", func() {
		It("should not move backwards", func() {
			cycle, _ := ctrl.Begin()
			Expect(ctrl.Advance(cycle, Rendering)).To(BeTrue())
			Expect(ctrl.Advance(cycle, AwaitingDetection)).To(BeFalse())
			Expect(ctrl.State()).To(Equal(Rendering))
		})

		It("should ignore a stale cycle", func() {
			cycle, _ := ctrl.Begin()
			ctrl.Reset()
			Expect(ctrl.Advance(cycle, AwaitingDetection)).To(BeFalse())
			Expect(ctrl.State()).To(Equal(Idle))
		})
	})

	Describe("Fail", func() {
		It("should return to idle without a capture", func() {
			cycle, _ := ctrl.Begin()
			ctrl.Advance(cycle, AwaitingDetection)
			ctrl.Fail(cycle)
			Expect(ctrl.State()).To(Equal(Idle))
			Expect(ctrl.Current()).To(BeNil())
		})

		It("should not touch a newer cycle", func() {
			stale, _ := ctrl.Begin()
			ctrl.Reset()
			ctrl.Fail(stale)
			_, ok := ctrl.Begin()
			Expect(ok).To(BeTrue())

			ctrl.Fail(stale)
			Expect(ctrl.State()).To(Equal(Capturing))
		})
	})

	Describe("Reset", func() {
		It("should clear the capture", func() {
			cycle, _ := ctrl.Begin()
			ctrl.Complete(cycle, &Capture{ID: "c1"})

			ctrl.Reset()
			Expect(ctrl.Current()).To(BeNil())
			Expect(ctrl.State()).To(Equal(Idle))
		})

		It("should discard a cycle that completes afterwards", func() {
			cycle, _ := ctrl.Begin()
			ctrl.Advance(cycle, AwaitingDetection)

			ctrl.Reset()
			Expect(ctrl.Complete(cycle, &Capture{ID: "late"})).To(BeFalse())
			Expect(ctrl.Current()).To(BeNil())
			Expect(ctrl.State()).To(Equal(Idle))
		})

		It("should refuse Begin until the abandoned cycle completes", func() {
			cycle, _ := ctrl.Begin()
			ctrl.Advance(cycle, AwaitingDetection)

			ctrl.Reset()
			_, ok := ctrl.Begin()
			Expect(ok).To(BeFalse())

			ctrl.Complete(cycle, &Capture{ID: "late"})
			_, ok = ctrl.Begin()
			Expect(ok).To(BeTrue())
		})

		It("should refuse Begin until the abandoned cycle fails", func() {
			cycle, _ := ctrl.Begin()

			ctrl.Reset()
			ctrl.Reset()
			_, ok := ctrl.Begin()
			Expect(ok).To(BeFalse())

			ctrl.Fail(cycle)
			_, ok = ctrl.Begin()
			Expect(ok).To(BeTrue())
		})

		It("should allow Begin right away when nothing was running", func() {
			cycle, _ := ctrl.Begin()
			ctrl.Complete(cycle, &Capture{ID: "c1"})

			ctrl.Reset()
			_, ok := ctrl.Begin()
			Expect(ok).To(BeTrue())
		})
	})

	DescribeTable("State.String",
		func(state State, expected string) {
			Expect(state.String()).To(Equal(expected))
		},
		Entry("idle", Idle, "idle"),
		Entry("capturing", Capturing, "capturing"),
		Entry("awaiting detection", AwaitingDetection, "awaiting_detection"),
		Entry("rendering", Rendering, "rendering"),
		Entry("out of range", State(42), "unknown"),
	)
})

var _ = Describe("Sessions", func() {
	var sessions *Sessions

	BeforeEach(func() {
		sessions = NewSessions()
	})

	It("should create a session for an empty id", func() {
		id, ctrl := sessions.Get("")
		Expect(id).NotTo(BeEmpty())
		Expect(ctrl).NotTo(BeNil())
		Expect(sessions.Len()).To(Equal(1))
	})

	It("should return the same controller for a known id", func() {
		id, first := sessions.Get("")
		again, second := sessions.Get(id)
		Expect(again).To(Equal(id))
		Expect(second).To(BeIdenticalTo(first))
	})

	It("should issue a new id for an unknown one", func() {
		id, _ := sessions.Get("forged")
		Expect(id).NotTo(Equal("forged"))
		Expect(sessions.Len()).To(Equal(1))
	})

	It("should keep sessions apart", func() {
		_, a := sessions.Get("")
		_, b := sessions.Get("")
		_, ok := a.Begin()
		Expect(ok).To(BeTrue())
		Expect(b.State()).To(Equal(Idle))
	})

	Describe("Prune", func() {
		It("should drop idle sessions past the cutoff", func() {
			sessions.Get("")
			sessions.Get("")
			Expect(sessions.Prune(-time.Minute)).To(Equal(2))
			Expect(sessions.Len()).To(BeZero())
		})

		It("should keep recent sessions", func() {
			sessions.Get("")
			Expect(sessions.Prune(time.Hour)).To(BeZero())
			Expect(sessions.Len()).To(Equal(1))
		})

		It("should keep sessions with a cycle in flight", func() {
			_, ctrl := sessions.Get("")
			ctrl.Begin()
			Expect(sessions.Prune(-time.Minute)).To(BeZero())
		})

		It("should keep sessions whose reset cycle is still running", func() {
			_, ctrl := sessions.Get("")
			ctrl.Begin()
			ctrl.Reset()
			Expect(sessions.Prune(-time.Minute)).To(BeZero())
		})
	})
})
