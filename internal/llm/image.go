package llm

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/koheon2/screenmate-backend/internal/apperr"
)

// Screenshots never touch disk: validated in memory, inlined as a data
// URL, discarded with the request.

const maxScreenshotBytes = 5 * 1024 * 1024

var allowedScreenshotTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
	"image/webp": {},
}

// ScreenshotUpload is the raw attachment as received by the HTTP layer.
type ScreenshotUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ValidateScreenshot returns the image as an inline content part, or
// (nil, nil) when no usable attachment was supplied. A nil upload, empty
// payload, or missing filename all mean "no screenshot", not an error.
func ValidateScreenshot(s *ScreenshotUpload) (*ContentPart, error) {
	if s == nil || len(s.Data) == 0 || strings.TrimSpace(s.Filename) == "" {
		return nil, nil
	}

	if len(s.Data) > maxScreenshotBytes {
		return nil, apperr.BadRequest("IMAGE_TOO_LARGE", "Image size must not exceed 5MB")
	}

	mediaType := strings.ToLower(strings.TrimSpace(s.ContentType))
	if _, ok := allowedScreenshotTypes[mediaType]; !ok {
		return nil, apperr.BadRequest("INVALID_IMAGE_TYPE", "Image must be PNG, JPEG, GIF, or WebP")
	}

	encoded := base64.StdEncoding.EncodeToString(s.Data)
	return &ContentPart{
		Type: "image_url",
		ImageURL: &ImageURL{
			URL:    fmt.Sprintf("data:%s;base64,%s", mediaType, encoded),
			Detail: "low",
		},
	}, nil
}
