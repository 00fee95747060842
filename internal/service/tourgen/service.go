// Package tourgen suggests a personalized stop ordering for a tour from the
// interests its participants recorded ahead of the visit.
package tourgen

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/campusloop/backend/internal/config"
)

// Service runs the itinerary-generation chain. Callers treat it as
// best-effort: a failed suggestion never blocks the tour.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	log   zerolog.Logger
}

// NewService compiles the prompt/model chain from the configured model.
func NewService(ctx context.Context, cfg config.AIConfig, log zerolog.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compiling generation chain: %w", err)
	}

	return &Service{chain: runnable, log: log}, nil
}

// SuggestOrder asks the model to order the candidate locations for the given
// interests and returns the suggested location ids.
func (s *Service) SuggestOrder(ctx context.Context, locations, interests []string) ([]string, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("no candidate locations")
	}

	response, err := s.chain.Invoke(ctx, map[string]any{
		"query": buildQuery(locations, interests),
	})
	if err != nil {
		return nil, fmt.Errorf("running generation chain: %w", err)
	}

	order, err := parseOrder(response.Content, locations)
	if err != nil {
		return nil, err
	}

	s.log.Debug().Int("stops", len(order)).Msg("itinerary suggestion generated")
	return order, nil
}
