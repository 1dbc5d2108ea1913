package config

// EmbeddingConfig configures the vector embedding engine.
// Supports Ollama (local) and GenAI (cloud) backends, with a
// deterministic hash fallback when neither is reachable.
type EmbeddingConfig struct {
	// Provider: "ollama", "genai" or "hash"
	Provider string `yaml:"provider"`

	// Ollama configuration (local embedding server)
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	// GenAI configuration (Google cloud embedding)
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`

	// Dimensions is fixed per project once the first chunk is embedded.
	Dimensions int `yaml:"dimensions"`
}

// DefaultEmbeddingConfig returns sensible defaults.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		Dimensions:     768,
	}
}
