package pipeline

// Envelope is the uniform result shape every control-plane surface
// returns, CLI and HTTP alike.
type Envelope struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
	Hint    string         `json:"hint,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Succeed builds a success envelope around the given payload.
func Succeed(details map[string]any) Envelope {
	return Envelope{OK: true, Details: details}
}

// Fail classifies err into a failure envelope. The correlation id
// always rides along so an operator can find the run in the logs.
func Fail(err error, correlationID string) Envelope {
	f := Classify(err)
	env := Envelope{
		OK:    false,
		Error: f.Error(),
		Code:  f.Code,
		Hint:  f.Hint,
	}
	if correlationID != "" {
		env.Details = map[string]any{"correlationId": correlationID}
	}
	return env
}
