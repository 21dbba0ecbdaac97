package detection

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func testJPEG(w, h int) []byte {
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, testImage(w, h), nil)).To(Succeed())
	return buf.Bytes()
}

func testPNG(w, h int) []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, testImage(w, h))).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("FrameEncoder", func() {
	var (
		encoder *FrameEncoder
		frame   *EncodedFrame
		data    []byte
		ctype   string
		err     error
	)

	BeforeEach(func() {
		encoder = NewFrameEncoder(100)
		ctype = ""
	})

	Describe("Encode", func() {
		JustBeforeEach(func() {
			frame, err = encoder.Encode(data, ctype)
		})

		When("a JPEG fits within the limit", func() {
			BeforeEach(func() {
				data = testJPEG(80, 60)
				ctype = "image/jpeg"
			})

			It("should pass the bytes through unchanged", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(frame.JPEG).To(Equal(data))
				Expect(frame.Base64).To(Equal(base64.StdEncoding.EncodeToString(data)))
			})

			It("should report the frame size", func() {
				Expect(frame.Width).To(Equal(80))
				Expect(frame.Height).To(Equal(60))
			})
		})

		When("a PNG is larger than the limit", func() {
			BeforeEach(func() {
				data = testPNG(200, 100)
				ctype = "image/png"
			})

			It("should scale the longest side down and keep the aspect ratio", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(frame.Width).To(Equal(100))
				Expect(frame.Height).To(Equal(50))
			})

			It("should produce a JPEG", func() {
				img, format, decodeErr := image.Decode(bytes.NewReader(frame.JPEG))
				Expect(decodeErr).NotTo(HaveOccurred())
				Expect(format).To(Equal("jpeg"))
				Expect(img.Bounds().Dx()).To(Equal(100))
			})
		})

		When("the content type is missing", func() {
			BeforeEach(func() {
				data = testPNG(40, 120)
			})

			It("should sniff the format", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(frame.Width).To(Equal(33))
				Expect(frame.Height).To(Equal(100))
			})
		})

		When("the frame is empty", func() {
			BeforeEach(func() {
				data = nil
			})

			It("should return an invalid input error", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
			})
		})

		When("the frame is not an image", func() {
			BeforeEach(func() {
				data = []byte("this is not an image at all")
			})

			It("should return an invalid input error", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
			})
		})
	})

	Describe("EncodeBase64", func() {
		var payload string

		JustBeforeEach(func() {
			frame, err = encoder.EncodeBase64(payload)
		})

		When("the payload has a data URL prefix", func() {
			BeforeEach(func() {
				data = testJPEG(50, 50)
				payload = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
			})

			It("should strip it and decode the frame", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(frame.JPEG).To(Equal(data))
			})
		})

		When("the payload is not base64", func() {
			BeforeEach(func() {
				payload = "%%%not-base64"
			})

			It("should return an invalid input error", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
			})
		})
	})
})

var _ = Describe("StripDataURL", func() {
	It("should leave a bare payload alone", func() {
		Expect(StripDataURL("aGVsbG8=")).To(Equal("aGVsbG8="))
	})

	It("should remove the prefix", func() {
		Expect(StripDataURL(" data:image/png;base64,aGVsbG8=")).To(Equal("aGVsbG8="))
	})
})
