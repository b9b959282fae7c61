// Package validate turns raw extractions into scored, typed observations.
// Rules run in a fixed order; each can reject outright, clear a field, or
// charge a confidence penalty. Price is the primary product of the system,
// so its absence is a hard rejection rather than a low score.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pricesense/price-crawler/internal/core"
)

// Fixed confidence penalties, subtracted from the starting score of 1.0.
const (
	penaltyMissingName      = 0.10
	penaltySuspectName      = 0.15
	penaltyMissingStock     = 0.10
	penaltyUnmappedStock    = 0.15
	penaltyMissingImage     = 0.05
	penaltySuspectPrice     = 0.10
	penaltyDroppedDiscount  = 0.05
	penaltyDeepDiscount     = 0.05
	penaltyDiscountMismatch = 0.10
	penaltyBadRating        = 0.05
)

// Plausible KRW price bounds; observations outside are suspect, not
// rejected.
const (
	minPlausiblePrice = 50
	maxPlausiblePrice = 10_000_000
)

var (
	trailing999 = regexp.MustCompile(`999$`)
	numericOnly = regexp.MustCompile(`^[0-9\s\-_.]+$`)
)

// Error-page fragments that sometimes leak into scraped product names.
var forbiddenNameFragments = []string{
	"error", "404", "500", "not found", "unavailable",
}

var stockStatuses = map[string]core.StockStatus{
	"available":    core.StockAvailable,
	"limited":      core.StockLimited,
	"critical":     core.StockCritical,
	"out_of_stock": core.StockOutOfStock,
	"preorder":     core.StockPreorder,
	"unknown":      core.StockUnknown,
}

// Validator scores raw extractions against the persistence gate.
type Validator struct {
	minConfidence float64
}

// New creates a Validator. minConfidence is the persistence gate; the
// returned observation carries its score either way so callers can log it.
func New(minConfidence float64) *Validator {
	return &Validator{minConfidence: minConfidence}
}

// MinConfidence returns the persistence gate.
func (v *Validator) MinConfidence() float64 {
	return v.minConfidence
}

// Validate builds an Observation from a raw extraction.
//
// A missing or non-positive price returns core.ErrNotFound. A score below
// the gate returns the observation together with core.ErrLowConfidence;
// low confidence is terminal, not transient. Both are permanent outcomes.
func (v *Validator) Validate(productID int64, raw core.RawExtraction, now time.Time) (core.Observation, error) {
	if raw.Price == nil {
		return core.Observation{}, fmt.Errorf("price missing from extraction: %w", core.ErrNotFound)
	}
	if *raw.Price <= 0 {
		return core.Observation{}, fmt.Errorf("non-positive price %v: %w", *raw.Price, core.ErrNotFound)
	}

	score := 1.0
	obs := core.Observation{
		ProductID:     productID,
		Price:         *raw.Price,
		PromotionInfo: raw.PromotionInfo,
		ImageURL:      raw.ImageURL,
		StockQuantity: raw.StockQuantity,
		RecordedAt:    now,
	}

	score -= priceSuspicion(*raw.Price)
	score -= namePenalty(raw.Name)

	obs.StockStatus, score = mapStock(raw.StockStatus, score)

	if raw.DiscountRate != nil {
		rate := *raw.DiscountRate
		switch {
		case rate < 0 || rate > 100:
			// Out-of-range discount clears the field, not the record.
			score -= penaltyDroppedDiscount
		case rate > 80:
			obs.DiscountRate = raw.DiscountRate
			score -= penaltyDeepDiscount
		default:
			obs.DiscountRate = raw.DiscountRate
		}
		if obs.DiscountRate != nil && discountDisagrees(rate, *raw.Price, raw.OriginalPrice) {
			score -= penaltyDiscountMismatch
		}
	}

	if raw.ImageURL == nil {
		score -= penaltyMissingImage
	}
	if raw.Rating != nil && (*raw.Rating < 0 || *raw.Rating > 5) {
		score -= penaltyBadRating
	}

	if score < 0 {
		score = 0
	}
	obs.ConfidenceScore = score

	if score < v.minConfidence {
		return obs, fmt.Errorf("score %.2f below gate %.2f: %w", score, v.minConfidence, core.ErrLowConfidence)
	}
	return obs, nil
}

// discountDisagrees checks the stated rate against the rate implied by the
// original price. Disagreement beyond 5 points means one of the two scraped
// numbers is wrong.
func discountDisagrees(stated, price float64, original *float64) bool {
	if original == nil || *original <= 0 || price > *original {
		return false
	}
	implied := (1 - price / *original) * 100
	diff := stated - implied
	if diff < 0 {
		diff = -diff
	}
	return diff > 5
}

func priceSuspicion(price float64) float64 {
	if price < minPlausiblePrice || price > maxPlausiblePrice {
		return penaltySuspectPrice
	}
	digits := strconv.FormatInt(int64(price), 10)
	if allSameDigit(digits) || trailing999.MatchString(digits) {
		return penaltySuspectPrice
	}
	return 0
}

// allSameDigit reports placeholder-looking prices such as 1111 or 99999.
func allSameDigit(digits string) bool {
	if len(digits) < 2 {
		return false
	}
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}

func namePenalty(name *string) float64 {
	if name == nil || strings.TrimSpace(*name) == "" {
		return penaltyMissingName
	}
	trimmed := strings.TrimSpace(*name)
	if len(trimmed) < 3 || numericOnly.MatchString(trimmed) {
		return penaltySuspectName
	}
	lower := strings.ToLower(trimmed)
	for _, frag := range forbiddenNameFragments {
		if strings.Contains(lower, frag) {
			return penaltySuspectName
		}
	}
	return 0
}

// mapStock maps the raw stock string onto the fixed enumeration.
// Unrecognized values become unknown with a penalty, not a rejection.
func mapStock(raw *string, score float64) (core.StockStatus, float64) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return core.StockUnknown, score - penaltyMissingStock
	}
	normalized := strings.ToLower(strings.TrimSpace(*raw))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if status, ok := stockStatuses[normalized]; ok {
		return status, score
	}
	return core.StockUnknown, score - penaltyUnmappedStock
}
