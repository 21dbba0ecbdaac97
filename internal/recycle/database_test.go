package recycle

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/bluebin/internal/detection"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newFeedback := func(id string, ts time.Time) *Feedback {
		return &Feedback{
			ID:          id,
			Timestamp:   ts,
			CaptureID:   "capture-" + id,
			Filename:    "feedback_" + id + ".jpg",
			ContentType: "image/jpeg",
			Prediction:  Prediction{Item: "Aluminum Can", IsRecyclable: true, Confidence: 1.0},
			IsCorrect:   true,
			Detections: detection.Batch{
				{Label: "Aluminum Can", Box: detection.Box{XMin: 0.1, YMin: 0.2, Width: 0.3, Height: 0.4}, Recyclable: true},
			},
		}
	}

	Describe("SaveFeedback", func() {
		var (
			feedback *Feedback
			err      error
		)

		BeforeEach(func() {
			feedback = newFeedback("test-id", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
		})

		JustBeforeEach(func() {
			err = db.SaveFeedback(feedback)
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should round-trip the record", func() {
			retrieved, getErr := db.GetFeedback("test-id")
			Expect(getErr).NotTo(HaveOccurred())
			Expect(retrieved.CaptureID).To(Equal("capture-test-id"))
			Expect(retrieved.Prediction).To(Equal(feedback.Prediction))
			Expect(retrieved.Detections).To(Equal(feedback.Detections))
			Expect(retrieved.Timestamp.Equal(feedback.Timestamp)).To(BeTrue())
		})

		When("a record with the same ID exists", func() {
			BeforeEach(func() {
				Expect(db.SaveFeedback(newFeedback("test-id", time.Now()))).To(Succeed())
				feedback.IsCorrect = false
			})

			It("should overwrite it", func() {
				retrieved, getErr := db.GetFeedback("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(retrieved.IsCorrect).To(BeFalse())
			})
		})
	})

	Describe("GetFeedback", func() {
		When("the record does not exist", func() {
			It("should return ErrNotFound", func() {
				_, err := db.GetFeedback("missing")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListFeedback", func() {
		When("there are no records", func() {
			It("should return an empty list", func() {
				records, err := db.ListFeedback()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).NotTo(BeNil())
				Expect(records).To(BeEmpty())
			})
		})

		When("there are records", func() {
			BeforeEach(func() {
				base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
				Expect(db.SaveFeedback(newFeedback("b", base.Add(2*time.Hour)))).To(Succeed())
				Expect(db.SaveFeedback(newFeedback("c", base))).To(Succeed())
				Expect(db.SaveFeedback(newFeedback("a", base.Add(time.Hour)))).To(Succeed())
			})

			It("should return them oldest first", func() {
				records, err := db.ListFeedback()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(3))
				Expect(records[0].ID).To(Equal("c"))
				Expect(records[1].ID).To(Equal("a"))
				Expect(records[2].ID).To(Equal("b"))
			})
		})
	})

	Describe("DeleteFeedback", func() {
		BeforeEach(func() {
			Expect(db.SaveFeedback(newFeedback("test-id", time.Now()))).To(Succeed())
		})

		It("should remove the record", func() {
			Expect(db.DeleteFeedback("test-id")).To(Succeed())
			_, err := db.GetFeedback("test-id")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("should not fail for a missing record", func() {
			Expect(db.DeleteFeedback("missing")).To(Succeed())
		})
	})

	Describe("reopening", func() {
		It("should keep records across restarts", func() {
			Expect(db.SaveFeedback(newFeedback("kept", time.Now()))).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())

			_, err = db.GetFeedback("kept")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
