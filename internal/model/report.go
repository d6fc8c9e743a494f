package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// ScoreReport is the trust-score report for a product.
type ScoreReport struct {
	ProductID         string            `json:"productId"`
	OverallScore      int               `json:"overallScore"`
	ProductDetails    ProductDetails    `json:"productDetails"`
	ReviewAnalysis    ReviewAnalysis    `json:"reviewAnalysis"`
	ImageVerification ImageVerification `json:"imageVerification"`
	SellerCredibility SellerCredibility `json:"sellerCredibility"`
	Reasons           []string          `json:"reasons,omitempty"`
}

// ProductDetails identifies the analysed product.
type ProductDetails struct {
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	AnalyzedAt Timestamp `json:"analyzedAt"`
}

// ReviewAnalysis summarises review authenticity.
type ReviewAnalysis struct {
	TotalReviews       int    `json:"totalReviews"`
	FakeReviews        int    `json:"fakeReviews"`
	SuspiciousPatterns int    `json:"suspiciousPatterns,omitempty"`
	Sentiment          string `json:"sentiment,omitempty"`
	Summary            string `json:"summary,omitempty"`
	Score              int    `json:"score"`
}

// ImageVerification summarises product image checks.
type ImageVerification struct {
	TotalImages       int    `json:"totalImages"`
	VerifiedImages    int    `json:"verifiedImages"`
	ManipulatedImages int    `json:"manipulatedImages,omitempty"`
	Summary           string `json:"summary,omitempty"`
	Score             int    `json:"score"`
}

// SellerCredibility summarises the seller's standing.
type SellerCredibility struct {
	Rating         Rating `json:"rating"`
	VerifiedSeller bool   `json:"verifiedSeller"`
	AccountAge     string `json:"accountAge,omitempty"`
	Summary        string `json:"summary,omitempty"`
	Score          int    `json:"score"`
}

// Timestamp is the analysis time held as RFC3339 text. The scoring backend
// sends epoch milliseconds; older payloads and the demo report use strings.
type Timestamp string

// TimestampOf formats t as a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UTC().Format(time.RFC3339))
}

// UnmarshalJSON accepts epoch milliseconds, a string, or null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "model: analyzedAt")
		}
		*t = Timestamp(s)
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return eris.Wrapf(err, "model: analyzedAt %s", data)
	}
	*t = TimestampOf(time.UnixMilli(int64(ms)))
	return nil
}

// Rating is a seller rating. The backend reports a label such as "Good";
// numeric ratings are kept in their shortest decimal form.
type Rating string

// RatingOf formats a numeric rating.
func RatingOf(v float64) Rating {
	return Rating(strconv.FormatFloat(v, 'f', -1, 64))
}

// Numeric reports the rating as a number when it is one.
func (r Rating) Numeric() (float64, bool) {
	v, err := strconv.ParseFloat(string(r), 64)
	return v, err == nil
}

// UnmarshalJSON accepts a number, a string, or null.
func (r *Rating) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*r = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "model: rating")
		}
		*r = Rating(s)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return eris.Wrapf(err, "model: rating %s", data)
	}
	*r = RatingOf(v)
	return nil
}

// MarshalJSON writes numeric ratings as numbers and labels as strings.
func (r Rating) MarshalJSON() ([]byte, error) {
	if v, ok := r.Numeric(); ok {
		return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
	}
	return json.Marshal(string(r))
}

// TrustBand names the range an overall score falls in.
type TrustBand string

const (
	TrustCritical TrustBand = "critical"
	TrustReliable TrustBand = "reliable"
	TrustHigh     TrustBand = "high"
)

// Band buckets OverallScore: 0-25 critical, 26-75 reliable, 76-100 high.
func (r ScoreReport) Band() TrustBand {
	switch {
	case r.OverallScore >= 76:
		return TrustHigh
	case r.OverallScore >= 26:
		return TrustReliable
	default:
		return TrustCritical
	}
}

// DemoProductID identifies the built-in demo report.
const DemoProductID = "demo-product-123"

// DemoReport returns the fixed sample report shown in demo mode.
func DemoReport(now time.Time) ScoreReport {
	return ScoreReport{
		ProductID:    DemoProductID,
		OverallScore: 78,
		ProductDetails: ProductDetails{
			Name:       "Demo Product - Wireless Headphones",
			URL:        "https://example.com/product/demo",
			AnalyzedAt: TimestampOf(now),
		},
		ReviewAnalysis: ReviewAnalysis{
			TotalReviews:       1547,
			FakeReviews:        12,
			SuspiciousPatterns: 3,
			Score:              82,
		},
		ImageVerification: ImageVerification{
			TotalImages:       45,
			VerifiedImages:    43,
			ManipulatedImages: 2,
			Score:             76,
		},
		SellerCredibility: SellerCredibility{
			Rating:         RatingOf(4.8),
			VerifiedSeller: true,
			AccountAge:     "3 years",
			Score:          85,
		},
	}
}

// ConnectivityProbe is the outcome of a gateway reachability check.
type ConnectivityProbe struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LatencyMs int64  `json:"latencyMs"`
}
