// Package config defines the store's configuration surface: transform
// defaults, transaction defaults, per-index-family defaults, and online
// build throttle bounds. Loading from a file, merging with flags, and
// env-var precedence are CLI concerns outside this module's scope — this
// package only defines the struct a host CLI would populate and pass in.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete store configuration. It mirrors the shape of
// the design's component table: one sub-struct per component that takes
// tunables.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Transform   TransformConfig   `yaml:"transform" json:"transform"`
	Transaction TransactionConfig `yaml:"transaction" json:"transaction"`
	FullText    FullTextConfig    `yaml:"full_text" json:"full_text"`
	Vector      VectorConfig      `yaml:"vector" json:"vector"`
	OnlineBuild OnlineBuildConfig `yaml:"online_build" json:"online_build"`
	Planner     PlannerConfig     `yaml:"planner" json:"planner"`
}

// TransformConfig controls the envelope's compress/encrypt pipeline.
type TransformConfig struct {
	// Compression selects the codec: "none", "zstd" or "lz4". The zlib,
	// lzma and lzfse codecs are not supported.
	Compression string `yaml:"compression" json:"compression"`
	// Encrypt enables AES-GCM authenticated encryption with the configured key provider.
	Encrypt bool `yaml:"encrypt" json:"encrypt"`
	// LargeValueThresholdBytes is the size above which values are split (default ~90KB).
	LargeValueThresholdBytes int `yaml:"large_value_threshold_bytes" json:"large_value_threshold_bytes"`
}

// DefaultTransformConfig matches spec.md §3's ~90KB split threshold and no transform.
func DefaultTransformConfig() TransformConfig {
	return TransformConfig{
		Compression:              "none",
		Encrypt:                  false,
		LargeValueThresholdBytes: 90 * 1024,
	}
}

// TransactionConfig is the default TransactionConfiguration (spec.md §4.1)
// applied when a caller doesn't override it per-call.
type TransactionConfig struct {
	Priority             string        `yaml:"priority" json:"priority"` // batch|default|system
	TimeoutMs            int           `yaml:"timeout_ms" json:"timeout_ms"`
	RetryLimit           int           `yaml:"retry_limit" json:"retry_limit"`
	MaxRetryDelayMs      int           `yaml:"max_retry_delay_ms" json:"max_retry_delay_ms"`
	CachePolicy          string        `yaml:"cache_policy" json:"cache_policy"` // server|cached|stale
	StaleMaxAge          time.Duration `yaml:"stale_max_age" json:"stale_max_age"`
	ReportConflictingKeys bool         `yaml:"report_conflicting_keys" json:"report_conflicting_keys"`
}

// DefaultTransactionConfig returns sensible defaults for interactive workloads.
func DefaultTransactionConfig() TransactionConfig {
	return TransactionConfig{
		Priority:        "default",
		TimeoutMs:       5000,
		RetryLimit:      5,
		MaxRetryDelayMs: 1000,
		CachePolicy:     "server",
	}
}

// FullTextConfig configures BM25 defaults (spec.md §4.5).
type FullTextConfig struct {
	K1                float64 `yaml:"k1" json:"k1"`
	B                 float64 `yaml:"b" json:"b"`
	BlockSize         int     `yaml:"block_size" json:"block_size"`
	MinDocsForBMW     int     `yaml:"min_docs_for_bmw" json:"min_docs_for_bmw"`
	StorePositions    bool    `yaml:"store_positions" json:"store_positions"`
	DefaultTokenizer  string  `yaml:"default_tokenizer" json:"default_tokenizer"` // simple|stem|ngram|keyword
}

// DefaultFullTextConfig matches spec.md §4.5's stated defaults.
func DefaultFullTextConfig() FullTextConfig {
	return FullTextConfig{
		K1:               1.2,
		B:                0.75,
		BlockSize:        64,
		MinDocsForBMW:    1000,
		StorePositions:   true,
		DefaultTokenizer: "simple",
	}
}

// VectorConfig configures HNSW defaults (spec.md §4.6).
type VectorConfig struct {
	M                int     `yaml:"m" json:"m"`
	EfConstruction   int     `yaml:"ef_construction" json:"ef_construction"`
	EfSearch         int     `yaml:"ef_search" json:"ef_search"`
	Metric           string  `yaml:"metric" json:"metric"` // cosine|l2|innerProduct
	RescoringFactor  int     `yaml:"rescoring_factor" json:"rescoring_factor"`
	ACORNGamma       float64 `yaml:"acorn_gamma" json:"acorn_gamma"`
}

// DefaultVectorConfig matches spec.md §4.6's stated defaults.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		M:               32,
		EfConstruction:  128,
		EfSearch:        64,
		Metric:          "cosine",
		RescoringFactor: 4,
		ACORNGamma:      2.0,
	}
}

// OnlineBuildConfig bounds the adaptive throttler (spec.md §4.11).
type OnlineBuildConfig struct {
	InitialBatchSize int           `yaml:"initial_batch_size" json:"initial_batch_size"`
	MinBatchSize     int           `yaml:"min_batch_size" json:"min_batch_size"`
	MaxBatchSize     int           `yaml:"max_batch_size" json:"max_batch_size"`
	InitialDelay     time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay         time.Duration `yaml:"max_delay" json:"max_delay"`
	TxnSizeSoftLimit int           `yaml:"txn_size_soft_limit" json:"txn_size_soft_limit"` // bytes, spec.md §5's 9MB
}

// DefaultOnlineBuildConfig matches spec.md §5's transaction-size policy.
func DefaultOnlineBuildConfig() OnlineBuildConfig {
	return OnlineBuildConfig{
		InitialBatchSize: 100,
		MinBatchSize:     10,
		MaxBatchSize:     10000,
		InitialDelay:     0,
		MaxDelay:         2 * time.Second,
		TxnSizeSoftLimit: 9 * 1024 * 1024,
	}
}

// PlannerConfig bounds the Cascades optimizer (spec.md §4.9).
type PlannerConfig struct {
	MaxPlanEnumerations int           `yaml:"max_plan_enumerations" json:"max_plan_enumerations"`
	MaxRuleApplications int           `yaml:"max_rule_applications" json:"max_rule_applications"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	PlanCacheSize       int           `yaml:"plan_cache_size" json:"plan_cache_size"`
	InJoinThreshold     int           `yaml:"in_join_threshold" json:"in_join_threshold"` // spec.md §4.9's n<=20
}

// DefaultPlannerConfig matches spec.md §4.9's stated IN-predicate threshold.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxPlanEnumerations: 10000,
		MaxRuleApplications: 50000,
		Timeout:             2 * time.Second,
		PlanCacheSize:       1024,
		InJoinThreshold:     20,
	}
}

// Default returns a Config with every component at its documented default.
func Default() Config {
	return Config{
		Version:     1,
		Transform:   DefaultTransformConfig(),
		Transaction: DefaultTransactionConfig(),
		FullText:    DefaultFullTextConfig(),
		Vector:      DefaultVectorConfig(),
		OnlineBuild: DefaultOnlineBuildConfig(),
		Planner:     DefaultPlannerConfig(),
	}
}

// Load parses YAML configuration bytes on top of Default(): fields that
// data does not mention keep their Default() values, so a config file
// only needs to specify the fields it overrides.
func Load(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
