package bedrock

import (
	"cosmos/core/provider"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brdocument "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultMaxTokens = 4096

// requestParts holds the pieces shared by Converse and ConverseStream
// inputs, so both entry points build from the same request translation.
type requestParts struct {
	messages  []brtypes.Message
	system    []brtypes.SystemContentBlock
	inference *brtypes.InferenceConfiguration
	toolCfg   *brtypes.ToolConfiguration
}

func buildRequestParts(req provider.Request) (requestParts, error) {
	msgs, err := toBedrockMessages(req.Messages)
	if err != nil {
		return requestParts{}, err
	}

	parts := requestParts{messages: msgs}

	if req.System != "" {
		parts.system = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	inference := &brtypes.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if req.Temperature > 0 {
		inference.Temperature = aws.Float32(float32(req.Temperature))
	}
	parts.inference = inference

	if len(req.Tools) > 0 {
		tc, err := toBedrockToolConfig(req.Tools)
		if err != nil {
			return requestParts{}, err
		}
		parts.toolCfg = tc
	}

	return parts, nil
}

func buildConverseStreamInput(req provider.Request) (*bedrockruntime.ConverseStreamInput, error) {
	parts, err := buildRequestParts(req)
	if err != nil {
		return nil, err
	}
	return &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(req.Model),
		Messages:        parts.messages,
		System:          parts.system,
		InferenceConfig: parts.inference,
		ToolConfig:      parts.toolCfg,
	}, nil
}

func buildConverseInput(req provider.Request) (*bedrockruntime.ConverseInput, error) {
	parts, err := buildRequestParts(req)
	if err != nil {
		return nil, err
	}
	return &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model),
		Messages:        parts.messages,
		System:          parts.system,
		InferenceConfig: parts.inference,
		ToolConfig:      parts.toolCfg,
	}, nil
}

// toBedrockMessages flattens core messages to Bedrock's content-block form.
// A message's Content is sent as a single text block; tool calls and tool
// results are never structured here — the core embeds their JSON directly
// in Content so that every provider funnels tool-call detection through the
// same streaming parser (see core.ToolCallParser).
func toBedrockMessages(msgs []provider.Message) ([]brtypes.Message, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == provider.RoleSystem {
			// System messages are carried via the request's System field,
			// never as a conversation turn.
			continue
		}
		bm, err := toBedrockMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, bm)
	}
	return out, nil
}

func toBedrockMessage(m provider.Message) (brtypes.Message, error) {
	role, err := toBedrockRole(m.Role)
	if err != nil {
		return brtypes.Message{}, err
	}

	msg := brtypes.Message{Role: role}

	if m.Content != "" {
		msg.Content = append(msg.Content, &brtypes.ContentBlockMemberText{Value: m.Content})
	}

	for _, img := range m.Images {
		format, err := toBedrockImageFormat(img.MediaType)
		if err != nil {
			return brtypes.Message{}, err
		}
		msg.Content = append(msg.Content, &brtypes.ContentBlockMemberImage{
			Value: brtypes.ImageBlock{
				Format: format,
				Source: &brtypes.ImageSourceMemberBytes{Value: img.Data},
			},
		})
	}

	if len(msg.Content) == 0 {
		return brtypes.Message{}, fmt.Errorf("message with role %q has no content", m.Role)
	}

	return msg, nil
}

func toBedrockImageFormat(mediaType string) (brtypes.ImageFormat, error) {
	switch mediaType {
	case "image/png":
		return brtypes.ImageFormatPng, nil
	case "image/jpeg", "image/jpg":
		return brtypes.ImageFormatJpeg, nil
	case "image/gif":
		return brtypes.ImageFormatGif, nil
	case "image/webp":
		return brtypes.ImageFormatWebp, nil
	default:
		return "", fmt.Errorf("unsupported image media type: %q", mediaType)
	}
}

func toBedrockRole(r provider.Role) (brtypes.ConversationRole, error) {
	switch r {
	case provider.RoleUser:
		return brtypes.ConversationRoleUser, nil
	case provider.RoleAssistant:
		return brtypes.ConversationRoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown message role: %q", r)
	}
}

func toBedrockToolConfig(tools []provider.ToolDefinition) (*brtypes.ToolConfiguration, error) {
	brTools := make([]brtypes.Tool, len(tools))
	for i, t := range tools {
		brTools[i] = &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: brdocument.NewLazyDocument(t.InputSchema),
				},
			},
		}
	}

	return &brtypes.ToolConfiguration{Tools: brTools}, nil
}
