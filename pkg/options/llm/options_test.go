package llm_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/answerd/pkg/options/llm"
)

func TestAddFlags(t *testing.T) {
	t.Run("flag names follow the mapstructure paths", func(t *testing.T) {
		embedding := llm.NewEmbeddingOptions()
		generator := llm.NewGeneratorOptions()

		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		embedding.AddFlags(fs, "embedding")
		generator.AddFlags(fs, "generator")

		// Config-file keys like embedding.provider must resolve to the
		// same flags viper binds.
		require.NoError(t, fs.Parse([]string{
			"--embedding.provider=ollama",
			"--embedding.model=nomic-embed-text",
			"--generator.model=llama3.1:70b",
			"--generator.timeout=30s",
		}))
		assert.Equal(t, "ollama", embedding.Provider)
		assert.Equal(t, "nomic-embed-text", embedding.Model)
		assert.Equal(t, "llama3.1:70b", generator.Model)
		assert.Equal(t, 30*time.Second, generator.Timeout)

		assert.Nil(t, fs.Lookup("embedding.llm.provider"))
	})
}

func TestValidate(t *testing.T) {
	t.Run("defaults with a model are valid", func(t *testing.T) {
		assert.Empty(t, llm.NewEmbeddingOptions().Validate())
		assert.Empty(t, llm.NewGeneratorOptions().Validate())
	})

	t.Run("missing fields are reported", func(t *testing.T) {
		opts := llm.NewProviderOptions()
		opts.Provider = ""
		opts.Model = ""

		assert.Len(t, opts.Validate(), 2)
	})

	t.Run("nil options validate", func(t *testing.T) {
		var opts *llm.ProviderOptions
		assert.Empty(t, opts.Validate())
	})
}
