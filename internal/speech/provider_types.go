package speech

// Voice list shape returned by the upstream.
type providerVoiceList struct {
	Object string          `json:"object"`
	Data   []providerVoice `json:"data"`
}

type providerVoice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

type providerErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}
