package domain

import "errors"

var (
	// ErrVoiceInputUnsupported means the platform offers no speech-to-text.
	ErrVoiceInputUnsupported = errors.New("voice input unsupported")
	// ErrVoiceInputPermissionDenied means the user declined microphone access.
	ErrVoiceInputPermissionDenied = errors.New("microphone access denied")
	// ErrVoiceInputFailure is any other capture failure.
	ErrVoiceInputFailure = errors.New("speech recognition failed")
	// ErrVoiceOutputFailure is a synthesis failure.
	ErrVoiceOutputFailure = errors.New("speech synthesis failed")
)
