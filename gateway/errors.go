package gateway

import (
	"errors"
	"strings"

	"github.com/i2y/llmgateway/provider"
)

// AllProvidersFailedError is returned when no candidate produced a
// complete stream. It unwraps to every per-attempt error, in order.
type AllProvidersFailedError struct {
	Attempts []error

	// Partial is the text streamed before a mid-stream failure ended the
	// request, if any.
	Partial string
}

func (e *AllProvidersFailedError) Error() string {
	var b strings.Builder
	b.WriteString("all providers failed")
	if e.Partial != "" {
		b.WriteString(" after partial output")
	}
	for i, err := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the per-attempt errors.
func (e *AllProvidersFailedError) Unwrap() []error {
	return e.Attempts
}

// Is matches provider.ErrAllProvidersFailed.
func (e *AllProvidersFailedError) Is(target error) bool {
	return target == provider.ErrAllProvidersFailed
}

// annotate fills in the provider and model of an untagged *provider.Error.
// Other errors are wrapped as network errors.
func annotate(err error, m provider.ResolvedModel) error {
	var perr *provider.Error
	if !errors.As(err, &perr) {
		return &provider.Error{Kind: provider.KindNetwork, Provider: m.ProviderID, Model: m.Model, Cause: err}
	}
	if perr.Provider != "" {
		return err
	}
	tagged := *perr
	tagged.Provider = m.ProviderID
	tagged.Model = m.Model
	return &tagged
}

func canceled(err error) error {
	return &provider.Error{Kind: provider.KindCanceled, Cause: err}
}
