package domain

import "context"

// VoiceState is the lifecycle state of voice capture.
type VoiceState string

const (
	VoiceIdle       VoiceState = "idle"
	VoiceRequesting VoiceState = "requesting-permission"
	VoiceListening  VoiceState = "listening"
	VoiceError      VoiceState = "error"
)

// Voice is a synthesis voice offered by a SpeechOutput.
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Utterance is one unit of synthesized speech. An empty Voice selects the
// platform default.
type Utterance struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

// UtteranceEvents are the notifications a SpeechOutput delivers for one
// utterance. Any field may be nil.
type UtteranceEvents struct {
	OnStart func()
	OnEnd   func()
	OnError func(err error)
}

// RecognitionEvents are the notifications a SpeechInput delivers for one
// capture. OnResult carries the cumulative best-guess transcript so far.
type RecognitionEvents struct {
	OnResult func(transcript string)
	OnEnd    func()
	OnError  func(err error)
}

// SpeechInput is a platform speech-to-text capability. Events may arrive on
// any goroutine. Abort ends the capture without further events.
type SpeechInput interface {
	Available() bool
	RequestPermission(ctx context.Context) error
	Start(events RecognitionEvents) error
	Stop()
	Abort()
}

// SpeechOutput is a platform text-to-speech capability. Speak replaces any
// utterance in progress; Cancel silences it.
type SpeechOutput interface {
	Available() bool
	Voices() []Voice
	Speak(u Utterance, events UtteranceEvents) error
	Cancel()
}
