package llm

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/soyeahso/closer/internal/logging"
)

// FailoverClient is a Client that walks an ordered list of registry
// references, moving on only when a provider fails in a way another one
// might not.
type FailoverClient struct {
	reg  *Registry
	refs []string
	log  *logging.Logger
}

func NewFailoverClient(reg *Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		reg:  reg,
		refs: append([]string{primary}, fallbacks...),
		log:  log.Sub("failover"),
	}
}

func (f *FailoverClient) Name() string { return f.refs[0] }

// Complete returns the first success. req.Model only reaches the primary;
// fallbacks answer with their own configured model. A reference that
// resolves to a client already tried is skipped.
func (f *FailoverClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var (
		tried []Client
		errs  []error
	)
	for i, ref := range f.refs {
		client, err := f.reg.Resolve(ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if slices.Contains(tried, client) {
			continue
		}
		tried = append(tried, client)

		attempt := req
		if i > 0 {
			attempt.Model = ""
		}
		resp, err := client.Complete(ctx, attempt)
		switch {
		case err == nil:
			return resp, nil
		case ctx.Err() != nil, !IsRetryable(err):
			return nil, err
		}
		errs = append(errs, err)
		f.log.Warn().Err(err).Str("ref", ref).Msg("provider failed, trying next")
	}
	return nil, errors.Join(errs...)
}

// retryableCodes are statuses where a different provider may succeed:
// credentials, quota and server side trouble. 529 is Anthropic's overload.
var retryableCodes = []int{
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	529,
}

var retryableHints = []string{"overloaded", "rate limit", "capacity", "timeout"}

// IsRetryable reports whether err is worth another provider.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && slices.Contains(retryableCodes, pe.Code) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return slices.ContainsFunc(retryableHints, func(h string) bool {
		return strings.Contains(msg, h)
	})
}
