package llm

import (
	"context"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/bedrock"

	"github.com/raphaelgruber/memu-go/internal/apperr"
)

// BedrockAdapter talks to AWS Bedrock through the SDK credential chain.
// Completion only.
type BedrockAdapter struct {
	*core
	region string

	mu      sync.Mutex
	runtime *bedrockruntime.Client
	load    func(context.Context) (*bedrockruntime.Client, error)
}

func NewBedrockAdapter(opts Options) *BedrockAdapter {
	a := &BedrockAdapter{core: newCore(opts), region: opts.Region}
	a.load = a.loadRuntime
	return a
}

func (a *BedrockAdapter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return a.complete(ctx, req, func(model string) (llms.Model, error) {
		rt, err := a.runtimeClient(ctx)
		if err != nil {
			return nil, err
		}
		llm, err := bedrock.New(bedrock.WithClient(rt), bedrock.WithModel(model))
		if err != nil {
			return nil, apperr.Configuration("create bedrock client for %s: %v", a.name, err)
		}
		return llm, nil
	})
}

// runtimeClient returns the cached SDK client, loading it on first use. A
// failed load is not cached; the next call tries again.
func (a *BedrockAdapter) runtimeClient(ctx context.Context) (*bedrockruntime.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtime != nil {
		return a.runtime, nil
	}
	rt, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	a.runtime = rt
	return rt, nil
}

// loadRuntime reads the AWS credential chain. SDK retries are disabled so a
// call makes exactly one attempt.
func (a *BedrockAdapter) loadRuntime(ctx context.Context) (*bedrockruntime.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.WithoutCancel(ctx),
		awsconfig.WithRegion(a.region),
		awsconfig.WithHTTPClient(a.httpClient),
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, apperr.Configuration("load aws config for %s: %v", a.name, err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}
