package gateway

import (
	"github.com/i2y/llmgateway/anthropic"
	"github.com/i2y/llmgateway/gemini"
	"github.com/i2y/llmgateway/openai"
	"github.com/i2y/llmgateway/provider"
)

// adapters is the closed mapping from protocol family to adapter.
var adapters = map[provider.Family]provider.Adapter{
	provider.FamilyOpenAI:           openai.New(openai.PolicyOpenAI),
	provider.FamilyOpenAICompatible: openai.New(openai.PolicyCompatible),
	provider.FamilyGeminiOpenAI:     openai.New(openai.PolicyGeminiOpenAI),
	provider.FamilyAnthropic:        anthropic.New(),
	provider.FamilyGemini:           gemini.New(),
}

// AdapterFor returns the adapter of a protocol family.
func AdapterFor(f provider.Family) (provider.Adapter, error) {
	a, ok := adapters[f]
	if !ok {
		return nil, provider.Errorf(provider.KindConfiguration, "unsupported protocol %q", f)
	}
	return a, nil
}
