package models

type AgentCapability struct {
	Name                string        `json:"name"`
	Description         string        `json:"description"`
	InputTypes          []MessageType `json:"input_types"`
	OutputTypes         []MessageType `json:"output_types"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
	RequiresHumanReview bool          `json:"requires_human_review"`
}

func (capability AgentCapability) Accepts(messageType MessageType) bool {
	for _, input := range capability.InputTypes {
		if input == messageType {
			return true
		}
	}
	return false
}

// DefaultAgentCapabilities is advertised per agent kind, not per instance.
func DefaultAgentCapabilities() map[AgentType][]AgentCapability {
	return map[AgentType][]AgentCapability{
		AgentTypeIntake: {{
			Name:                "portfolio_intake",
			Description:         "Parse uploaded portfolio files into portfolio items",
			InputTypes:          []MessageType{MessageTypeRequestAction},
			OutputTypes:         []MessageType{MessageTypeDataProcessed},
			ConfidenceThreshold: 0.8,
		}},
		AgentTypeResearch: {{
			Name:                "fund_research",
			Description:         "Search the web for fund category, fees and holdings",
			InputTypes:          []MessageType{MessageTypeDataProcessed},
			OutputTypes:         []MessageType{MessageTypeDataProcessed, MessageTypeStatusUpdate},
			ConfidenceThreshold: 0.5,
		}},
		AgentTypeClassification: {{
			Name:                "fund_classification",
			Description:         "Assign asset classes and sub-categories to researched funds",
			InputTypes:          []MessageType{MessageTypeDataProcessed},
			OutputTypes:         []MessageType{MessageTypeDataProcessed, MessageTypeStatusUpdate},
			ConfidenceThreshold: 0.7,
			RequiresHumanReview: true,
		}},
		AgentTypeExtraction: {{
			Name:                "document_extraction",
			Description:         "Extract structured fund data from fund documents",
			InputTypes:          []MessageType{MessageTypeRequestAction},
			OutputTypes:         []MessageType{MessageTypeDataProcessed},
			ConfidenceThreshold: 0.7,
			RequiresHumanReview: true,
		}},
		AgentTypeChatOrchestrator: {{
			Name:        "chat_orchestration",
			Description: "Sequence pipeline stages and converse with the user",
			InputTypes: []MessageType{
				MessageTypeStatusUpdate, MessageTypeDataProcessed, MessageTypeRequestAction,
				MessageTypeValidationResult, MessageTypeChatResponse, MessageTypeError,
			},
			OutputTypes:         []MessageType{MessageTypeChatResponse},
			ConfidenceThreshold: 0.5,
		}},
	}
}
