package receipt

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TPD", func() {
	Describe("UnmarshalJSON", func() {
		var (
			payload string
			item    ReceiptItem
			err     error
		)

		JustBeforeEach(func() {
			item = ReceiptItem{}
			err = json.Unmarshal([]byte(payload), &item)
		})

		When("tpd is a boolean flag", func() {
			BeforeEach(func() {
				payload = `{"name":"Paper Towels","price":"12.99","tpd":true}`
			})

			It("decodes as a flag", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(item.TPD.Kind).To(Equal(TPDFlag))
				Expect(item.TPD.Applied()).To(BeTrue())
			})
		})

		When("tpd is false", func() {
			BeforeEach(func() {
				payload = `{"name":"Paper Towels","price":"12.99","tpd":false}`
			})

			It("decodes as none", func() {
				Expect(item.TPD.Kind).To(Equal(TPDNone))
				Expect(item.TPD.Applied()).To(BeFalse())
			})
		})

		When("tpd is a descriptive label", func() {
			BeforeEach(func() {
				payload = `{"name":"Shoes","price":"29.99","tpd":"TPD/SHOES"}`
			})

			It("preserves the label", func() {
				Expect(item.TPD.Kind).To(Equal(TPDLabel))
				Expect(item.TPD.Label).To(Equal("TPD/SHOES"))
				Expect(item.TPD.Applied()).To(BeTrue())
			})
		})

		When("tpd is absent", func() {
			BeforeEach(func() {
				payload = `{"name":"Olive Oil","price":"8.49"}`
			})

			It("decodes as none", func() {
				Expect(item.TPD.Applied()).To(BeFalse())
			})
		})

		When("tpd has an unexpected shape", func() {
			BeforeEach(func() {
				payload = `{"name":"Olive Oil","price":"8.49","tpd":{"weird":1}}`
			})

			It("defaults to none without failing", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(item.TPD.Applied()).To(BeFalse())
			})
		})
	})

	Describe("MarshalJSON", func() {
		It("round-trips the flag shape", func() {
			out, err := json.Marshal(ReceiptItem{Name: "A", Price: "1.00", TPD: FlagTPD()})
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(ContainSubstring(`"tpd":true`))
		})

		It("round-trips the label shape", func() {
			out, err := json.Marshal(ReceiptItem{Name: "A", Price: "1.00", TPD: LabelTPD("TPD/3333332")})
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(ContainSubstring(`"tpd":"TPD/3333332"`))
		})
	})
})
