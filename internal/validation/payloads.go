// Package validation checks client supplied payloads before they reach the stores or the call coordinator.
// Errors are user-friendly and wrap errs.ErrInvalidPayload.
package validation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/gregriff/duet/internal/errs"
	"github.com/gregriff/duet/internal/schemas"
	"github.com/pion/webrtc/v4"
)

var validate = validator.New()

var validCharsIdentity = regexp.MustCompile(`^[A-Za-z\d_.]+$`)

const maxCandidateBytes = 4 * 1024

// SDP is bounded to 64KB, real offers with video are a few KB.
type description struct {
	SDP       string `validate:"required,max=65536"`
	MediaType string `validate:"omitempty,oneof=voice video"`
}

// Identity validates the format of an identity name. Membership in the configured set is checked elsewhere.
func Identity(name string) error {
	if len(name) == 0 {
		return invalid("empty identity")
	}
	if len(name) > 32 {
		return invalid("identity too long. Must be 32 characters or less")
	}
	if !validCharsIdentity.MatchString(name) {
		// "-" is reserved as the conversation key separator
		return invalid("invalid character(s) in identity. only letters, numbers, '_' and '.' allowed")
	}
	return nil
}

// MessageText validates the text of a message. maxLength is counted in characters.
func MessageText(text string, maxLength int) error {
	if strings.TrimSpace(text) == "" {
		return invalid("empty message")
	}
	if !utf8.ValidString(text) {
		return invalid("message is not valid utf-8")
	}
	if n := utf8.RuneCountInString(text); maxLength > 0 && n > maxLength {
		return invalid(fmt.Sprintf("message too long (%d characters, max %d)", n, maxLength))
	}
	return nil
}

// AvatarRef accepts http(s) URLs and base64 data: URLs containing an image.
func AvatarRef(ref string, maxBytes int) error {
	if ref == "" {
		return invalid("empty avatar")
	}
	if maxBytes > 0 && len(ref) > maxBytes {
		return invalid(fmt.Sprintf("avatar too large (%d bytes, max %d)", len(ref), maxBytes))
	}
	if strings.HasPrefix(ref, "data:") {
		return dataURLImage(ref)
	}
	if err := validate.Var(ref, "url"); err != nil {
		return invalid("avatar must be a URL or a data: URL")
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("avatar URL must be http or https")
	}
	return nil
}

// dataURLImage checks the decoded payload of a data URL is an image, regardless of the declared type.
func dataURLImage(ref string) error {
	header, payload, found := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !found || !strings.HasSuffix(header, ";base64") {
		return invalid("avatar data URL must be base64 encoded")
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return invalid("avatar data URL has invalid base64")
	}
	detected := mimetype.Detect(decoded)
	if !strings.HasPrefix(detected.String(), "image/") {
		return invalid(fmt.Sprintf("avatar must be an image, got %s", detected.String()))
	}
	return nil
}

// Offer validates a call offer. An empty media type is treated as voice by the caller of this func.
func Offer(offer webrtc.SessionDescription, mediaType schemas.MediaType) error {
	if offer.Type != webrtc.SDPTypeOffer {
		return invalid(fmt.Sprintf("expected sdp type offer, got %s", offer.Type))
	}
	if err := validate.Struct(description{SDP: offer.SDP, MediaType: string(mediaType)}); err != nil {
		return invalidValidation(err)
	}
	return nil
}

// Answer validates a call answer
func Answer(answer webrtc.SessionDescription) error {
	if answer.Type != webrtc.SDPTypeAnswer {
		return invalid(fmt.Sprintf("expected sdp type answer, got %s", answer.Type))
	}
	if err := validate.Struct(description{SDP: answer.SDP}); err != nil {
		return invalidValidation(err)
	}
	return nil
}

// Candidate bounds the size of a trickled ICE candidate. An empty candidate marks end-of-candidates.
func Candidate(candidate webrtc.ICECandidateInit) error {
	if len(candidate.Candidate) > maxCandidateBytes {
		return invalid("ice candidate too large")
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", errs.ErrInvalidPayload, msg)
}

func invalidValidation(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return invalid(err.Error())
}
