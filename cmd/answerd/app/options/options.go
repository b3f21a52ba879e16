// Package options contains flags and options for initializing the
// answer server.
package options

import (
	"errors"

	"github.com/spf13/pflag"

	"github.com/kart-io/answerd/internal/answerd"
	answeropts "github.com/kart-io/answerd/pkg/options/answer"
	httpopts "github.com/kart-io/answerd/pkg/options/http"
	llmopts "github.com/kart-io/answerd/pkg/options/llm"
	logopts "github.com/kart-io/answerd/pkg/options/logger"
	milvusopts "github.com/kart-io/answerd/pkg/options/milvus"
	mongoopts "github.com/kart-io/answerd/pkg/options/mongodb"
	postgresopts "github.com/kart-io/answerd/pkg/options/postgres"
	redisopts "github.com/kart-io/answerd/pkg/options/redis"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// MilvusOptions contains vector store configuration.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// MongoOptions contains lexical store configuration.
	MongoOptions *mongoopts.Options `json:"mongo" mapstructure:"mongo"`

	// PostgresOptions contains answer persistence configuration.
	PostgresOptions *postgresopts.Options `json:"postgres" mapstructure:"postgres"`

	// RedisOptions contains cache and job queue configuration.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// GeneratorOptions contains answer generator configuration.
	GeneratorOptions *llmopts.ProviderOptions `json:"generator" mapstructure:"generator"`

	// AnswerOptions contains answer-quality policy configuration.
	AnswerOptions *answeropts.Options `json:"answer" mapstructure:"answer"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		MongoOptions:     mongoopts.NewOptions(),
		PostgresOptions:  postgresopts.NewOptions(),
		RedisOptions:     redisopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		GeneratorOptions: llmopts.NewGeneratorOptions(),
		AnswerOptions:    answeropts.NewOptions(),
	}
}

// AddFlags adds all server flags to the given flagset.
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	o.HTTPOptions.AddFlags(fs)
	o.LogOptions.AddFlags(fs)
	o.MilvusOptions.AddFlags(fs)
	o.MongoOptions.AddFlags(fs)
	o.PostgresOptions.AddFlags(fs)
	o.RedisOptions.AddFlags(fs)
	o.EmbeddingOptions.AddFlags(fs, "embedding")
	o.GeneratorOptions.AddFlags(fs, "generator")
	o.AnswerOptions.AddFlags(fs)
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.MongoOptions.Complete(); err != nil {
		return err
	}
	if err := o.PostgresOptions.Complete(); err != nil {
		return err
	}
	return o.RedisOptions.Complete()
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	var errs []error

	errs = append(errs, o.HTTPOptions.Validate()...)
	if err := o.LogOptions.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, o.MilvusOptions.Validate()...)
	errs = append(errs, o.MongoOptions.Validate()...)
	errs = append(errs, o.PostgresOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.GeneratorOptions.Validate()...)
	errs = append(errs, o.AnswerOptions.Validate()...)

	return errors.Join(errs...)
}

// Config builds an answerd.Config based on ServerOptions.
func (o *ServerOptions) Config() (*answerd.Config, error) {
	if err := o.Complete(); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	return &answerd.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		MilvusOptions:    o.MilvusOptions,
		MongoOptions:     o.MongoOptions,
		PostgresOptions:  o.PostgresOptions,
		RedisOptions:     o.RedisOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		GeneratorOptions: o.GeneratorOptions,
		AnswerOptions:    o.AnswerOptions,
	}, nil
}
