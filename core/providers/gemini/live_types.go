package gemini

// Client messages

type liveSetupMessage struct {
	Setup liveSetup `json:"setup"`
}

type liveSetup struct {
	Model                    string                   `json:"model"`
	GenerationConfig         liveGenerationConfig     `json:"generationConfig"`
	RealtimeInputConfig      *liveRealtimeInputConfig `json:"realtimeInputConfig,omitempty"`
	InputAudioTranscription  *struct{}                `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}                `json:"outputAudioTranscription,omitempty"`
	SystemInstruction        *liveContent             `json:"systemInstruction,omitempty"`
}

type liveGenerationConfig struct {
	ResponseModalities []string          `json:"responseModalities"`
	SpeechConfig       *liveSpeechConfig `json:"speechConfig,omitempty"`
}

type liveSpeechConfig struct {
	VoiceConfig liveVoiceConfig `json:"voiceConfig"`
}

type liveVoiceConfig struct {
	PrebuiltVoiceConfig livePrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type livePrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type liveRealtimeInputConfig struct {
	ActivityHandling string `json:"activityHandling,omitempty"`
}

type liveRealtimeInputMessage struct {
	RealtimeInput liveRealtimeInput `json:"realtimeInput"`
}

type liveRealtimeInput struct {
	MediaChunks []liveBlob `json:"mediaChunks,omitempty"`
	ActivityEnd bool       `json:"activityEnd,omitempty"`
}

type liveClientContentMessage struct {
	ClientContent liveClientContent `json:"clientContent"`
}

type liveClientContent struct {
	Turns        []liveContent `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

// Shared

type liveContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []livePart `json:"parts"`
}

type livePart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *liveBlob `json:"inlineData,omitempty"`
}

type liveBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Server messages

type liveServerMessage struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *liveServerContent `json:"serverContent,omitempty"`
	Interrupted   *bool              `json:"interrupted,omitempty"`
	TurnComplete  *bool              `json:"turnComplete,omitempty"`
}

type liveServerContent struct {
	ModelTurn           *liveContent       `json:"modelTurn,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	OutputTranscription *liveTranscription `json:"outputTranscription,omitempty"`
}

type liveTranscription struct {
	Text string `json:"text"`
}
