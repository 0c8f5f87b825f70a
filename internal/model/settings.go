package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// FeatureExitIntent is the settings row key for the exit-intent popup.
const FeatureExitIntent = "exit_intent"

// OfferType selects the kind of discount issued by the popup.
type OfferType string

const (
	OfferNone         OfferType = "none"
	OfferPercent      OfferType = "percent"
	OfferFixedAmount  OfferType = "fixed_amount"
	OfferFreeShipping OfferType = "free_shipping"
)

// IsValid checks if the offer type is known.
func (t OfferType) IsValid() bool {
	switch t {
	case OfferNone, OfferPercent, OfferFixedAmount, OfferFreeShipping:
		return true
	}
	return false
}

// Settings validation limits.
const (
	MaxOfferExpiresHours   = 720
	MaxCooldownDays        = 365
	MaxGuestTokenExpiryDay = 90
)

var prefixRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{0,16}$`)

// ErrSettingsInvalid wraps every settings validation failure.
var ErrSettingsInvalid = errors.New("invalid settings")

// OfferConfig describes the discount handed out by the popup.
type OfferConfig struct {
	Type    OfferType       `json:"type"`
	Value   decimal.Decimal `json:"value"`
	Prefix  string          `json:"prefix"`
	Expires int             `json:"expires"` // hours
}

// TriggerConfig controls when the storefront script fires the popup.
type TriggerConfig struct {
	ExitIntent     bool `json:"exit_intent"`
	BackButton     bool `json:"back_button"`
	DelaySeconds   int  `json:"delay_seconds"`
	SensitivityPx  int  `json:"sensitivity_px"`
	MobileScrollUp bool `json:"mobile_scroll_up"`
}

// ContentConfig holds the popup copy.
type ContentConfig struct {
	Headline     string `json:"headline"`
	Body         string `json:"body"`
	CTAText      string `json:"cta_text"`
	DismissText  string `json:"dismiss_text"`
	ContinueText string `json:"continue_text"`
}

// BehaviorConfig restricts where the popup may appear.
type BehaviorConfig struct {
	RequireCartItems bool     `json:"require_cart_items"`
	Pages            []string `json:"pages,omitempty"`
}

// TrackingConfig controls state lifetimes.
type TrackingConfig struct {
	CooldownAfterConversion int `json:"cooldown_after_conversion"` // days
	GuestTokenExpiry        int `json:"guest_token_expiry"`        // days
}

// Settings is the admin-managed configuration of the exit-intent popup.
type Settings struct {
	Enabled  bool           `json:"enabled"`
	Offer    OfferConfig    `json:"offer"`
	Trigger  TriggerConfig  `json:"trigger"`
	Content  ContentConfig  `json:"content"`
	Behavior BehaviorConfig `json:"behavior"`
	Tracking TrackingConfig `json:"tracking"`

	// Version is bumped whenever coupon-relevant fields change.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultSettings returns the settings used before an admin saves any.
func DefaultSettings() Settings {
	return Settings{
		Enabled: false,
		Offer: OfferConfig{
			Type:    OfferPercent,
			Value:   decimal.NewFromInt(10),
			Prefix:  "EXIT-",
			Expires: 24,
		},
		Trigger: TriggerConfig{
			ExitIntent:    true,
			BackButton:    false,
			SensitivityPx: 20,
		},
		Content: ContentConfig{
			Headline:     "Wait! Don't leave yet",
			Body:         "Complete your order now and get a discount.",
			CTAText:      "Get my discount",
			DismissText:  "No thanks",
			ContinueText: "Continue shopping",
		},
		Behavior: BehaviorConfig{RequireCartItems: true},
		Tracking: TrackingConfig{
			CooldownAfterConversion: 30,
			GuestTokenExpiry:        7,
		},
		Version: 1,
	}
}

// Cooldown returns the period after a conversion during which the popup stays hidden.
func (s *Settings) Cooldown() time.Duration {
	return time.Duration(s.Tracking.CooldownAfterConversion) * 24 * time.Hour
}

// GuestTTL returns the lifetime of guest state and the guest cookie.
func (s *Settings) GuestTTL() time.Duration {
	return time.Duration(s.Tracking.GuestTokenExpiry) * 24 * time.Hour
}

// OfferWindow returns how long a shown popup and its coupon stay valid.
func (s *Settings) OfferWindow() time.Duration {
	return time.Duration(s.Offer.Expires) * time.Hour
}

// Validate checks value ranges. Errors wrap ErrSettingsInvalid.
func (s *Settings) Validate() error {
	if !s.Offer.Type.IsValid() {
		return fmt.Errorf("%w: unknown offer type %q", ErrSettingsInvalid, s.Offer.Type)
	}

	switch s.Offer.Type {
	case OfferPercent:
		if !s.Offer.Value.IsPositive() || s.Offer.Value.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: percent value must be in (0, 100]", ErrSettingsInvalid)
		}
	case OfferFixedAmount:
		if !s.Offer.Value.IsPositive() {
			return fmt.Errorf("%w: fixed amount must be positive", ErrSettingsInvalid)
		}
	}

	if !prefixRegex.MatchString(s.Offer.Prefix) {
		return fmt.Errorf("%w: prefix may contain up to 16 letters, digits, '-' or '_'", ErrSettingsInvalid)
	}
	if s.Offer.Expires < 1 || s.Offer.Expires > MaxOfferExpiresHours {
		return fmt.Errorf("%w: expires must be between 1 and %d hours", ErrSettingsInvalid, MaxOfferExpiresHours)
	}
	if s.Tracking.CooldownAfterConversion < 0 || s.Tracking.CooldownAfterConversion > MaxCooldownDays {
		return fmt.Errorf("%w: cooldown must be between 0 and %d days", ErrSettingsInvalid, MaxCooldownDays)
	}
	if s.Tracking.GuestTokenExpiry < 1 || s.Tracking.GuestTokenExpiry > MaxGuestTokenExpiryDay {
		return fmt.Errorf("%w: guest token expiry must be between 1 and %d days", ErrSettingsInvalid, MaxGuestTokenExpiryDay)
	}
	return nil
}

// CouponRelevantChanged reports whether two settings differ in a field that
// changes the coupon a visitor would receive.
func CouponRelevantChanged(prev, next *Settings) bool {
	return prev.Offer.Type != next.Offer.Type ||
		!prev.Offer.Value.Equal(next.Offer.Value) ||
		prev.Offer.Prefix != next.Offer.Prefix ||
		prev.Offer.Expires != next.Offer.Expires
}
