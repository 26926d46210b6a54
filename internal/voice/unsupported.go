package voice

import (
	"context"

	"lumos/internal/domain"
)

// UnsupportedInput stands in where the platform has no speech-to-text.
type UnsupportedInput struct{}

func (UnsupportedInput) Available() bool { return false }

func (UnsupportedInput) RequestPermission(context.Context) error {
	return domain.ErrVoiceInputUnsupported
}

func (UnsupportedInput) Start(domain.RecognitionEvents) error {
	return domain.ErrVoiceInputUnsupported
}

func (UnsupportedInput) Stop()  {}
func (UnsupportedInput) Abort() {}

// UnsupportedOutput stands in where the platform has no speech synthesis.
type UnsupportedOutput struct{}

func (UnsupportedOutput) Available() bool        { return false }
func (UnsupportedOutput) Voices() []domain.Voice { return nil }

func (UnsupportedOutput) Speak(domain.Utterance, domain.UtteranceEvents) error {
	return domain.ErrVoiceOutputFailure
}

func (UnsupportedOutput) Cancel() {}
