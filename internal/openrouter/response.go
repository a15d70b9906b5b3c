package openrouter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/cardloom/internal/validation"
)

func decodeChatResponse(body string) (*ChatResponse, error) {
	var raw any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, invalidResponse("Response is not valid JSON", err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, &Error{Code: CodeInvalidResponse, Message: "Response is not an object"}
	}

	var response ChatResponse
	if err := json.Unmarshal([]byte(body), &response); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			message := fmt.Sprintf("Response field %s has the wrong type: expected %s, received %s",
				typeErr.Field, typeErr.Type.Kind(), typeErr.Value)
			return nil, invalidResponse(message, err)
		}
		return nil, invalidResponse("Response does not match the chat completion shape", err)
	}
	return &response, nil
}

func invalidResponse(message string, cause error) *Error {
	return &Error{
		Code:    CodeInvalidResponse,
		Message: message,
		Details: cause.Error(),
		cause:   cause,
	}
}

func decodeAPIErrorMessage(body string) string {
	var payload apiErrorBody
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	return payload.Error.Message
}

// parseProposals extracts and validates the proposals carried by the first choice.
func parseProposals(response *ChatResponse, validator *validation.Validator) ([]FlashcardProposal, error) {
	if response == nil || len(response.Choices) == 0 {
		return nil, newError(CodeInvalidResponse, "No choices in response")
	}
	content := response.Choices[0].Message.Content
	if content == "" {
		return nil, newError(CodeInvalidResponse, "No message content in response")
	}

	var raw any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, &Error{
			Code:    CodeInvalidJSON,
			Message: fmt.Sprintf("Failed to parse response content as JSON: %v", err),
			cause:   err,
		}
	}

	var envelope proposalEnvelope
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		issues := shapeIssues(raw, validator)
		if len(issues) == 0 {
			issues = []validation.Issue{{Message: err.Error()}}
		}
		return nil, proposalValidationError(issues)
	}
	if issues := validator.Struct(envelope); len(issues) > 0 {
		return nil, proposalValidationError(issues)
	}
	return envelope.Proposals, nil
}

func proposalValidationError(issues []validation.Issue) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: "Response validation failed: " + validation.Join(issues),
		Details: issues,
	}
}

// shapeIssues reports every violation in content whose types do not match the envelope. Fields
// of the wrong type are validated as empty and the resulting issue is replaced by a type issue.
func shapeIssues(raw any, validator *validation.Validator) []validation.Issue {
	object, ok := raw.(map[string]any)
	if !ok {
		return []validation.Issue{typeIssue("", "object", raw)}
	}

	mistyped := map[string]validation.Issue{}
	var envelope proposalEnvelope
	if value, present := object["proposals"]; present {
		items, isArray := value.([]any)
		if !isArray {
			mistyped["proposals"] = typeIssue("proposals", "array", value)
		}
		envelope.Proposals = make([]FlashcardProposal, len(items))
		for index, item := range items {
			path := fmt.Sprintf("proposals[%d]", index)
			fields, isObject := item.(map[string]any)
			if !isObject {
				mistyped[path] = typeIssue(path, "object", item)
				continue
			}
			envelope.Proposals[index].Front = stringField(fields, "front", path, mistyped)
			envelope.Proposals[index].Back = stringField(fields, "back", path, mistyped)
		}
	}

	reported := map[string]bool{}
	var issues []validation.Issue
	for _, issue := range validator.Struct(envelope) {
		key, found := mistypedKey(issue.Field, mistyped)
		if !found {
			issues = append(issues, issue)
			continue
		}
		if !reported[key] {
			reported[key] = true
			issues = append(issues, mistyped[key])
		}
	}
	for key, issue := range mistyped {
		if !reported[key] {
			issues = append(issues, issue)
		}
	}
	return issues
}

func stringField(fields map[string]any, name, parent string, mistyped map[string]validation.Issue) string {
	value, present := fields[name]
	if !present {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		path := parent + "." + name
		mistyped[path] = typeIssue(path, "string", value)
	}
	return text
}

func mistypedKey(field string, mistyped map[string]validation.Issue) (string, bool) {
	for key := range mistyped {
		if field == key || strings.HasPrefix(field, key+".") || strings.HasPrefix(field, key+"[") {
			return key, true
		}
	}
	return "", false
}

func typeIssue(path, expected string, value any) validation.Issue {
	return validation.Issue{
		Field:   path,
		Message: fmt.Sprintf("expected %s, received %s", expected, jsonKind(value)),
	}
}

func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
