package detection

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
)

const jpegQuality = 90

// EncodedFrame is a captured frame ready to send to a detector
type EncodedFrame struct {
	// Base64 is the JPEG in standard base64, without a data URL prefix
	Base64 string
	JPEG   []byte
	Width  int
	Height int
}

// FrameEncoder turns whatever the page captured into a transport-ready JPEG
type FrameEncoder struct {
	maxSide int
}

// NewFrameEncoder creates a FrameEncoder. Frames whose longest side exceeds
// maxSide are scaled down; maxSide <= 0 disables scaling.
func NewFrameEncoder(maxSide int) *FrameEncoder {
	return &FrameEncoder{maxSide: maxSide}
}

// Encode decodes a raw frame of the given content type and produces an EncodedFrame.
// JPEG frames that need no scaling are passed through byte for byte.
func (e *FrameEncoder) Encode(data []byte, contentType string) (*EncodedFrame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidInput)
	}

	mimeType := normalizeMimeType(contentType, data)

	img, err := DecodeImage(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	scaled := e.scale(img)
	if scaled == img && mimeType == "image/jpeg" {
		b := img.Bounds()
		return &EncodedFrame{
			Base64: base64.StdEncoding.EncodeToString(data),
			JPEG:   data,
			Width:  b.Dx(),
			Height: b.Dy(),
		}, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}

	b := scaled.Bounds()
	return &EncodedFrame{
		Base64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		JPEG:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// EncodeBase64 accepts a base64 image as posted by the page. A data URL
// prefix is stripped; the rest must be canonical base64.
func (e *FrameEncoder) EncodeBase64(payload string) (*EncodedFrame, error) {
	payload = StripDataURL(payload)
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return e.Encode(data, "")
}

// StripDataURL removes a "data:image/...;base64," prefix if present
func StripDataURL(payload string) string {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i != -1 {
			return payload[i+1:]
		}
	}
	return payload
}

func (e *FrameEncoder) scale(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if e.maxSide <= 0 || (w <= e.maxSide && h <= e.maxSide) {
		return img
	}

	nw, nh := e.maxSide, e.maxSide
	if w >= h {
		nh = max(1, h*e.maxSide/w)
	} else {
		nw = max(1, w*e.maxSide/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// DecodeImage decodes JPEG, PNG, GIF, HEIC/HEIF and the first page of a PDF
func DecodeImage(data []byte, mimeType string) (image.Image, error) {
	switch {
	case mimeType == "application/pdf":
		return pdfToImage(data)
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		// Go's standard image package doesn't support HEIC (common on iPhones)
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// normalizeMimeType lowercases the declared type and sniffs the data when the
// declaration is missing or generic
func normalizeMimeType(contentType string, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i != -1 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
		if i := strings.Index(mimeType, ";"); i != -1 {
			mimeType = mimeType[:i]
		}
	}
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files carry an ftyp box at offset 4 with a HEIC-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
