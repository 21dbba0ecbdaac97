package detection

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Detector defines the interface for remote detection backends
type Detector interface {
	// Detect sends one encoded frame to the vision endpoint and returns the
	// raw reply text, which is expected to contain a JSON array somewhere
	Detect(ctx context.Context, imageBase64 string) (string, error)
	// Configured reports whether an endpoint and credential are available
	Configured() bool
	// Close closes the detector and releases resources
	Close() error
}

var payloadValidator = validator.New()

// ValidatePayload checks that imageBase64 is a non-empty canonical base64
// string without a data URL prefix
func ValidatePayload(imageBase64 string) error {
	if strings.TrimSpace(imageBase64) == "" {
		return fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	if err := payloadValidator.Var(imageBase64, "required,base64"); err != nil {
		return fmt.Errorf("%w: not canonical base64", ErrInvalidInput)
	}
	return nil
}

// detectionPrompt is the shared prompt used by all vision backends.
// Boxes are requested in [x_min, y_min, width, height] relative units, which is
// the only coordinate contract the normalizer accepts.
const detectionPrompt = `You are a high-precision vision system for the BlueBin recycling app. Your job is to find objects in the image and decide whether each belongs in the Singapore Blue Recycling Bin.

RECYCLABLE (recyclable: true):
- PAPER: newspapers, magazines, glossy paper, envelopes, cardboard and cardboard boxes, paper egg trays, paper bags, toilet rolls, paper towel rolls, gift wrapping paper (non-glitter).
- PLASTIC: drink bottles, detergent and shampoo bottles, plastic egg trays, clean takeaway containers, snack containers, grocery bags.
- METAL: aluminium cans, steel and tin food cans, aerosol cans, ring pulls, metal caps and lids, clean aluminium foil and trays.
- GLASS: glass bottles, glass jars.
- OTHERS: beverage cartons (Tetra Pak).

NOT FOR THE BLUE BIN (recyclable: false):
- textiles, e-waste and batteries, used tissues and paper towels, masks, squeeze tubes, styrofoam, ceramics, drinking glasses, mirrors.
- CONTAMINATION OVERRIDE: an otherwise recyclable item that is visibly oily or holds food scraps is recyclable: false.

COORDINATES:
For every object give "box_2d" as [x_min, y_min, width, height], each value a fraction of the image size between 0.0 and 1.0. x_min and y_min are the top-left corner.

Return ONLY a JSON array, with no text before or after it:
[
  {
    "label": "Plastic Bottle",
    "box_2d": [0.10, 0.20, 0.25, 0.40],
    "recyclable": true
  }
]

If there are no objects, return [].`
