package services

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// CertificateReviewResult mirrors the expected JSON from GPT-4o.
type CertificateReviewResult struct {
	LooksLikeDeathCertificate bool   `json:"looks_like_death_certificate"`
	LegibleName               bool   `json:"legible_name"`
	NameDetected              string `json:"name_detected,omitempty"`
	Concerns                  string `json:"concerns,omitempty"`
}

// CertificateReviewService pre-screens uploaded death certificates for the
// manual-review queue (requests with no verified trustees). It never decides
// the workflow on its own; the output is a triage note for support staff.
// If client is nil the feature is disabled and calls are skipped.
type CertificateReviewService struct {
	client *openai.Client
}

// NewCertificateReviewService creates the service. Pass an empty apiKey to disable calls.
func NewCertificateReviewService(apiKey string) *CertificateReviewService {
	if apiKey == "" {
		return &CertificateReviewService{client: nil}
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return &CertificateReviewService{client: &c}
}

// ReviewForManualQueue screens the request's attached certificate and logs
// the triage result. Failures are logged, never surfaced: the manual queue
// works fine without the pre-screen.
func (s *CertificateReviewService) ReviewForManualQueue(ctx context.Context, req *models.LegacyAccessRequest) {
	if s.client == nil || req.DeathCertificateURL == nil {
		return
	}
	result, err := s.ReviewCertificate(ctx, *req.DeathCertificateURL, req.RequesterName)
	if err != nil {
		utils.Logger.WithError(err).Warnf("Certificate pre-screen failed for request %s", req.ID)
		return
	}
	utils.Logger.Infof(
		"Certificate pre-screen for request %s: plausible=%t legible_name=%t name=%q concerns=%q",
		req.ID, result.LooksLikeDeathCertificate, result.LegibleName, result.NameDetected, result.Concerns,
	)
}

// ReviewCertificate sends the certificate image to GPT-4o Vision and returns
// the structured triage fields.
func (s *CertificateReviewService) ReviewCertificate(
	ctx context.Context,
	certificateURL string,
	requesterName string,
) (*CertificateReviewResult, error) {
	if s.client == nil {
		return &CertificateReviewResult{
			LooksLikeDeathCertificate: true,
			LegibleName:               true,
		}, nil
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"looks_like_death_certificate": map[string]string{"type": "boolean"},
			"legible_name":                 map[string]string{"type": "boolean"},
			"name_detected":                map[string]string{"type": "string"},
			"concerns":                     map[string]string{"type": "string"},
		},
		"required": []string{
			"looks_like_death_certificate",
			"legible_name",
			"name_detected",
			"concerns",
		},
		"additionalProperties": false,
	}

	fn := shared.FunctionDefinitionParam{
		Name:        "screen_death_certificate",
		Description: openai.String("Return booleans describing whether the uploaded document is plausibly a death certificate."),
		Strict:      openai.Bool(true),
		Parameters:  schema,
	}

	req := openai.ChatCompletionNewParams{
		Model: shared.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						openai.TextContentPart(fmt.Sprintf(`Check this document image.

Return JSON by calling screen_death_certificate(strict).
Rules:
1. looks_like_death_certificate = true if the document resembles an official death certificate.
2. legible_name = true if a deceased person's name is readable.
3. name_detected = the readable name, or "" if none.
4. concerns = one short sentence on anything suspicious (edits, mismatched fonts), or "".

The request was submitted by "%s"; do NOT assume the name must match.`, requesterName)),
						openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
							URL:    certificateURL,
							Detail: "low",
						}),
					},
				},
			},
		}},
		Tools: []openai.ChatCompletionToolParam{{
			Function: fn,
		}},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{
					Name: "screen_death_certificate",
				},
			},
		},
	}

	resp, err := s.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return nil, fmt.Errorf("openai: no function call returned")
	}

	var out CertificateReviewResult
	if err := json.Unmarshal(
		[]byte(resp.Choices[0].Message.ToolCalls[0].Function.Arguments),
		&out,
	); err != nil {
		return nil, fmt.Errorf("unmarshal certificate review result: %w", err)
	}

	return &out, nil
}
