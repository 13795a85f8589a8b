package modelclient

// Wire-format structs for the upstream BidiGenerateContent-style protocol
// (spec.md §6.3). Grounded on the gemini StreamSession client in the
// retrieval pack (runtime-providers-gemini stream_session.go): client
// messages are snake_case-free camelCase JSON, server messages tolerate
// unknown fields, and a frame carrying none of the consumed fields is
// ignored.

type setupEnvelope struct {
	Setup setupMessage `json:"setup"`
}

type setupMessage struct {
	Model            string            `json:"model"`
	GenerationConfig generationConfig  `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
	CachedContent     string             `json:"cachedContent,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type realtimeInputEnvelope struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type clientContentEnvelope struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string     `json:"role"`
	Parts []textPart `json:"parts"`
}

// serverMessage is the lenient decoder target for every inbound frame.
// Unknown fields are tolerated by default (encoding/json ignores them);
// only the fields the core actually consumes are declared.
type serverMessage struct {
	SetupComplete *setupCompleteMsg `json:"setupComplete,omitempty"`
	ServerContent *serverContent    `json:"serverContent,omitempty"`
	ToolCall      *toolCallMsg      `json:"toolCall,omitempty"`
	Error         *errorMsg         `json:"error,omitempty"`
}

type setupCompleteMsg struct {
	SessionID string `json:"sessionId"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

type modelTurn struct {
	Parts []serverPart `json:"parts"`
}

type serverPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type toolCallMsg struct {
	ID      string          `json:"id"`
	Payload map[string]any  `json:"payload,omitempty"`
}

type errorMsg struct {
	Message string `json:"message"`
}
