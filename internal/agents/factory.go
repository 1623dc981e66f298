package agents

import (
	"time"

	"github.com/chat-omega/fundonboarding/internal/cache"
	"github.com/chat-omega/fundonboarding/internal/config"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"github.com/chat-omega/fundonboarding/internal/scoring"
)

// Dependencies are the process-wide collaborators agents are built from.
// Everything except Search may be nil; agents that need a missing
// collaborator fail to construct.
type Dependencies struct {
	Cache      *cache.Cache
	Scorer     *scoring.Scorer
	Search     SearchClient
	Classifier DocumentClassifier
	Extractor  ExtractionBackend
	Storage    BlobStorage
	Research   config.ResearchConfig
	Pipeline   config.PipelineConfig
	Clock      func() time.Time
	Logger     *logger.Logger
}

type Factory struct {
	deps Dependencies
}

func NewFactory(deps Dependencies) *Factory {
	if deps.Scorer == nil {
		deps.Scorer = scoring.NewScorer()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	return &Factory{deps: deps}
}

// Create builds an uninitialized agent of the given kind for a session.
func (factory *Factory) Create(agentType models.AgentType, sessionID string) (Agent, error) {
	deps := factory.deps
	var (
		agent Agent
		err   error
	)
	switch agentType {
	case models.AgentTypeIntake:
		agent, err = asAgent(NewIntakeAgent(sessionID, deps.Storage, deps.Logger))
	case models.AgentTypeResearch:
		agent, err = asAgent(NewResearchAgent(sessionID, deps.Search, deps.Cache, ResearchOptions{
			MaxParallelSearches: deps.Research.MaxParallelSearches,
			SearchTimeout:       deps.Research.SearchTimeout,
			CacheTTL:            deps.Pipeline.ResearchTTL,
			Clock:               deps.Clock,
		}, deps.Logger))
	case models.AgentTypeClassification:
		agent, err = asAgent(NewClassificationAgent(sessionID, deps.Scorer, deps.Cache, ClassificationOptions{
			ReviewThreshold: deps.Pipeline.ReviewThreshold,
			HighConfidence:  deps.Pipeline.HighConfidence,
			CacheTTL:        deps.Pipeline.ClassificationTTL,
			Clock:           deps.Clock,
		}, deps.Logger))
	case models.AgentTypeExtraction:
		agent, err = asAgent(NewExtractionAgent(sessionID, deps.Storage, deps.Classifier, deps.Extractor,
			deps.Pipeline.ExtractionReview, deps.Logger))
	default:
		return nil, models.NewValidationError("UNSUPPORTED_AGENT", "No agent implementation for this kind").
			WithMetadata("agent", string(agentType))
	}
	return agent, err
}

// asAgent keeps a failed constructor's typed nil out of the interface.
func asAgent[T Agent](agent T, err error) (Agent, error) {
	if err != nil {
		return nil, err
	}
	return agent, nil
}
