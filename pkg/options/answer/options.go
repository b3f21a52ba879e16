// Package answer provides answer-quality policy and pipeline options.
package answer

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/answerd/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options defines the answer pipeline configuration. The quality
// thresholds default to the production policy.
type Options struct {
	// MinCitationCoverage is the minimum supported-sentence fraction.
	MinCitationCoverage float64 `json:"min-citation-coverage" mapstructure:"min-citation-coverage"`

	// MaxUnsupportedClaims is the tolerated number of unsupported claims.
	MaxUnsupportedClaims int `json:"max-unsupported-claims" mapstructure:"max-unsupported-claims"`

	// FreshnessWindow is the evidence staleness horizon.
	FreshnessWindow time.Duration `json:"freshness-window" mapstructure:"freshness-window"`

	// MinFreshCoverage is the minimum fresh-citation fraction.
	MinFreshCoverage float64 `json:"min-fresh-coverage" mapstructure:"min-fresh-coverage"`

	// ClaimOverlapThreshold is the claim-citation term overlap cutoff.
	ClaimOverlapThreshold float64 `json:"claim-overlap-threshold" mapstructure:"claim-overlap-threshold"`

	// RetrievalPoolMin and RetrievalPoolMultiplier size the candidate pool.
	RetrievalPoolMin        int `json:"retrieval-pool-min" mapstructure:"retrieval-pool-min"`
	RetrievalPoolMultiplier int `json:"retrieval-pool-multiplier" mapstructure:"retrieval-pool-multiplier"`

	// ResultLimit is the default evidence list size per query.
	ResultLimit int `json:"result-limit" mapstructure:"result-limit"`

	// CacheEnabled turns the Redis answer cache on.
	CacheEnabled bool `json:"cache-enabled" mapstructure:"cache-enabled"`

	// CacheTTL is the answer cache entry lifetime.
	CacheTTL time.Duration `json:"cache-ttl" mapstructure:"cache-ttl"`

	// JobPoolSize bounds the local job dispatch pool.
	JobPoolSize int `json:"job-pool-size" mapstructure:"job-pool-size"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		MinCitationCoverage:     0.8,
		MaxUnsupportedClaims:    0,
		FreshnessWindow:         30 * 24 * time.Hour,
		MinFreshCoverage:        0.8,
		ClaimOverlapThreshold:   0.14,
		RetrievalPoolMin:        30,
		RetrievalPoolMultiplier: 5,
		ResultLimit:             8,
		CacheEnabled:            false,
		CacheTTL:                time.Hour,
		JobPoolSize:             32,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Float64Var(&o.MinCitationCoverage, options.Join(prefixes...)+"answer.min-citation-coverage", o.MinCitationCoverage, "Minimum fraction of answer sentences supported by citations.")
	fs.IntVar(&o.MaxUnsupportedClaims, options.Join(prefixes...)+"answer.max-unsupported-claims", o.MaxUnsupportedClaims, "Maximum number of unsupported claims tolerated.")
	fs.DurationVar(&o.FreshnessWindow, options.Join(prefixes...)+"answer.freshness-window", o.FreshnessWindow, "Age beyond which evidence counts as stale.")
	fs.Float64Var(&o.MinFreshCoverage, options.Join(prefixes...)+"answer.min-fresh-coverage", o.MinFreshCoverage, "Minimum fraction of citations that must be fresh.")
	fs.Float64Var(&o.ClaimOverlapThreshold, options.Join(prefixes...)+"answer.claim-overlap-threshold", o.ClaimOverlapThreshold, "Minimum term overlap for a citation to support a claim.")
	fs.IntVar(&o.RetrievalPoolMin, options.Join(prefixes...)+"answer.retrieval-pool-min", o.RetrievalPoolMin, "Minimum retrieval candidate pool size.")
	fs.IntVar(&o.RetrievalPoolMultiplier, options.Join(prefixes...)+"answer.retrieval-pool-multiplier", o.RetrievalPoolMultiplier, "Candidate pool size as a multiple of the result limit.")
	fs.IntVar(&o.ResultLimit, options.Join(prefixes...)+"answer.result-limit", o.ResultLimit, "Default number of evidence items per query.")
	fs.BoolVar(&o.CacheEnabled, options.Join(prefixes...)+"answer.cache-enabled", o.CacheEnabled, "Enable the Redis answer cache.")
	fs.DurationVar(&o.CacheTTL, options.Join(prefixes...)+"answer.cache-ttl", o.CacheTTL, "Answer cache entry lifetime.")
	fs.IntVar(&o.JobPoolSize, options.Join(prefixes...)+"answer.job-pool-size", o.JobPoolSize, "Local job dispatch pool size.")
}

// Validate checks if the options are valid.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.MinCitationCoverage < 0 || o.MinCitationCoverage > 1 {
		errs = append(errs, fmt.Errorf("min-citation-coverage must be in [0, 1]"))
	}
	if o.MinFreshCoverage < 0 || o.MinFreshCoverage > 1 {
		errs = append(errs, fmt.Errorf("min-fresh-coverage must be in [0, 1]"))
	}
	if o.ClaimOverlapThreshold < 0 || o.ClaimOverlapThreshold > 1 {
		errs = append(errs, fmt.Errorf("claim-overlap-threshold must be in [0, 1]"))
	}
	if o.MaxUnsupportedClaims < 0 {
		errs = append(errs, fmt.Errorf("max-unsupported-claims must not be negative"))
	}
	if o.FreshnessWindow <= 0 {
		errs = append(errs, fmt.Errorf("freshness-window must be positive"))
	}
	if o.RetrievalPoolMin <= 0 || o.RetrievalPoolMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("retrieval pool sizing must be positive"))
	}
	if o.ResultLimit <= 0 {
		errs = append(errs, fmt.Errorf("result-limit must be positive"))
	}
	if o.JobPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("job-pool-size must be positive"))
	}
	return errs
}
