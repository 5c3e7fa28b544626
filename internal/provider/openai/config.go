package openai

// Config contains OpenAI provider configuration. Timeout is in seconds.
// BaseURL may point at any OpenAI-compatible gateway.
type Config struct {
	APIKey     string `env:"OPENAI_API_KEY"`
	BaseURL    string `env:"OPENAI_BASE_URL"    envDefault:"https://api.openai.com/v1"`
	Timeout    int    `env:"OPENAI_TIMEOUT"     envDefault:"300"`
	MaxRetries int    `env:"OPENAI_MAX_RETRIES" envDefault:"3"`
}
