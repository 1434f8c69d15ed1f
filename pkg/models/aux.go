package models

import (
	"errors"
	"strings"
)

var (
	ErrNoEra        = errors.New("era is required")
	ErrInvalidLimit = errors.New("suggestion limit must be at least 1")
)

const DefaultMaxTokens = 1024

type StoryRequest struct {
	Source    *Image
	Era       *Era
	Language  Language
	Prompt    string
	Model     string
	MaxTokens int
}

func NewStoryRequest(source *Image, era *Era, lang Language) *StoryRequest {
	return &StoryRequest{
		Source:    source,
		Era:       era,
		Language:  lang,
		MaxTokens: DefaultMaxTokens,
	}
}

func (r *StoryRequest) Validate() error {
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if r.Era == nil {
		return ErrNoEra
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

type SuggestionRequest struct {
	Source   *Image
	Era      *Era
	Language Language
	Prompt   string
	Model    string
	Limit    int
}

func NewSuggestionRequest(source *Image, era *Era, lang Language) *SuggestionRequest {
	return &SuggestionRequest{
		Source:   source,
		Era:      era,
		Language: lang,
		Limit:    4,
	}
}

func (r *SuggestionRequest) Validate() error {
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if r.Era == nil {
		return ErrNoEra
	}
	if r.Limit < 1 {
		return ErrInvalidLimit
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}
