package domain

import "time"

// CommandType identifies a side-effect the machine asks the host to perform.
type CommandType string

const (
	// CommandPrompt asks the host to present a prompt to the author.
	// Payload: Prompt
	CommandPrompt CommandType = "PROMPT"

	// CommandPersist asks the host to persist the returned session.
	// Payload: nil
	CommandPersist CommandType = "PERSIST"

	// CommandNotify reports a non-blocking notice (degraded mode, rejection, rollback).
	// Payload: Notice
	CommandNotify CommandType = "NOTIFY"

	// CommandGenerate asks the host to obtain generated text (optional, never blocking).
	// Payload: GenerationRequest
	CommandGenerate CommandType = "GENERATE"
)

// Command is a side-effect request returned alongside a new session state.
type Command struct {
	Type    CommandType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// PromptKind describes what the author is being asked for.
type PromptKind string

const (
	PromptAskField         PromptKind = "ask_field"
	PromptAskSubStep       PromptKind = "ask_sub_step"
	PromptConfirm          PromptKind = "confirm"
	PromptConfirmComposite PromptKind = "confirm_composite"
	PromptRefine           PromptKind = "refine"
	PromptComplete         PromptKind = "complete"
)

// Prompt is the render-agnostic description of the next question.
type Prompt struct {
	Kind  PromptKind `json:"kind"`
	Stage StageID    `json:"stage"`
	Field string     `json:"field,omitempty"`
	Label string     `json:"label,omitempty"`
	// Text is the question wording: generated when available, templated otherwise.
	Text    string   `json:"text,omitempty"`
	Value   string   `json:"value,omitempty"`
	Hint    string   `json:"hint,omitempty"`
	Attempt int      `json:"attempt,omitempty"`
	Address *Address `json:"address,omitempty"`
}

// GenerationKind names the purpose of a generation request.
type GenerationKind string

const (
	GenerationPrompt    GenerationKind = "prompt"
	GenerationSuggest   GenerationKind = "suggest"
	GenerationComposite GenerationKind = "composite"
)

// GenerationRequest is the context handed to the language-generation collaborator.
type GenerationRequest struct {
	Kind   GenerationKind    `json:"kind"`
	Stage  StageID           `json:"stage"`
	Field  string            `json:"field,omitempty"`
	Input  string            `json:"input,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Input is one author turn. At carries the turn time so transitions stay pure.
type Input struct {
	Text string
	At   time.Time
}
