package detection

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Categories", func() {
	var categories *Categories

	BeforeEach(func() {
		categories = DefaultCategories()
	})

	DescribeTable("Canonicalize",
		func(raw, expected string) {
			Expect(categories.Canonicalize(raw)).To(Equal(expected))
		},
		Entry("exact label", "Plastic Bottle", "Plastic Bottle"),
		Entry("bare can", "Can", "Aluminium Can"),
		Entry("plural", "cans", "Aluminium Can"),
		Entry("glass before plastic", "green glass bottle", "Glass Bottle"),
		Entry("bottle cap is not a bottle", "Bottle Cap", "Metal Cap"),
		Entry("paper towel is not paper", "paper towel", "Paper Towel"),
		Entry("food tin before can", "Tin can of beans", "Food Tin"),
		Entry("beverage carton", "Tetra Pak", "Beverage Carton"),
		Entry("whitespace is collapsed", "  egg   carton ", "Paper Egg Tray"),
		Entry("inflected bottle", "Bottled water", "Plastic Bottle"),
		Entry("inflected can", "Canned tuna", "Aluminium Can"),
		Entry("keyword inside a longer word", "scanner", "Electronics"),
		Entry("food container is not food tin", "plastic food container", "Plastic Container"),
		Entry("capsule is not a cap", "Coffee capsule", "Coffee Capsule"),
		Entry("unmatched label is kept", "Styrofoam Cup", "Styrofoam Cup"),
		Entry("unknown in any case", "UNKNOWN", UnknownLabel),
		Entry("empty label", "   ", UnknownLabel),
	)

	It("should map every canonical label to itself", func() {
		for _, rule := range DefaultCategoryRules {
			Expect(categories.Canonicalize(rule.Label)).To(Equal(rule.Label), rule.Label)
		}
	})

	Describe("NewCategories", func() {
		It("should refuse a rule without a label", func() {
			_, err := NewCategories([]CategoryRule{{Keywords: []string{"thing"}}})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("LoadCategories", func() {
		var (
			path string
			err  error
		)

		JustBeforeEach(func() {
			categories, err = LoadCategories(path)
		})

		When("the file holds an ordered rule list", func() {
			BeforeEach(func() {
				path = filepath.Join(GinkgoT().TempDir(), "categories.yaml")
				content := "categories:\n" +
					"  - label: Milk Jug\n" +
					"    keywords: [jug]\n" +
					"  - label: Plastic Bottle\n" +
					"    keywords: [bottle]\n"
				Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
			})

			It("should use the file's rules", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(categories.Canonicalize("milk jug")).To(Equal("Milk Jug"))
				Expect(categories.Canonicalize("bottle")).To(Equal("Plastic Bottle"))
				Expect(categories.Canonicalize("can")).To(Equal("can"))
			})
		})

		When("the file has no rules", func() {
			BeforeEach(func() {
				path = filepath.Join(GinkgoT().TempDir(), "empty.yaml")
				Expect(os.WriteFile(path, []byte("categories: []\n"), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		When("the file does not exist", func() {
			BeforeEach(func() {
				path = filepath.Join(GinkgoT().TempDir(), "missing.yaml")
			})

			It("should return an error", func() {
				Expect(err).To(MatchError(ContainSubstring("reading categories file")))
			})
		})
	})
})
