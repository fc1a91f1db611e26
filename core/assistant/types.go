// Package assistant talks to the remote assistant backend: it sends
// recognized utterances and turns the structured reply into audio segment
// locators.
package assistant

// Request field names follow the backend's PascalCase contract.
type Request struct {
	RequestId string         `json:"RequestId"`
	Context   RequestContext `json:"Context"`
	Device    Device         `json:"Device"`
	User      User           `json:"User"`
}

type Device struct {
	Id                      string `json:"Id"`
	Name                    string `json:"Name"`
	SupportsVideo           bool   `json:"SupportsVideo"`
	SupportsForegroundImage bool   `json:"SupportsForegroundImage"`
	SupportsBackgroundImage bool   `json:"SupportsBackgroundImage"`
	SupportsAudio           bool   `json:"SupportsAudio"`
	SupportsSsml            bool   `json:"SupportsSsml"`
	SupportsDisplayText     bool   `json:"SupportsDisplayText"`
	SupportsVoiceInput      bool   `json:"SupportsVoiceInput"`
	SupportsTextInput       bool   `json:"SupportsTextInput"`
}

type User struct {
	Id                       string         `json:"Id"`
	Name                     string         `json:"Name"`
	AccessToken              string         `json:"AccessToken,omitempty"`
	AdditionalUserAttributes map[string]any `json:"AdditionalUserAttributes,omitempty"`
	AdditionalUserFlags      []string       `json:"AdditionalUserFlags,omitempty"`
}

type RequestContext struct {
	SessionId                     string            `json:"SessionId"`
	NoTracking                    bool              `json:"NoTracking"`
	RequestType                   string            `json:"RequestType"`
	RequestName                   string            `json:"RequestName,omitempty"`
	Slots                         map[string]string `json:"Slots,omitempty"`
	OriginalInput                 string            `json:"OriginalInput"`
	Channel                       string            `json:"Channel"`
	RequiresLanguageUnderstanding bool              `json:"RequiresLanguageUnderstanding"`
	Locale                        string            `json:"Locale"`
	AdditionalRequestAttributes   map[string]any    `json:"AdditionalRequestAttributes,omitempty"`
	AdditionalSessionAttributes   map[string]any    `json:"AdditionalSessionAttributes,omitempty"`
	AdditionalSessionFlags        []string          `json:"AdditionalSessionFlags,omitempty"`
}

// Response is the backend reply. Every field is optional; a reply without
// outputSpeech has nothing to say.
type Response struct {
	ResponseId       string   `json:"responseId"`
	Ssml             string   `json:"ssml"`
	OutputSpeech     string   `json:"outputSpeech"`
	DisplayText      string   `json:"displayText"`
	DisplayTitle     string   `json:"displayTitle"`
	ResponseTemplate string   `json:"responseTemplate"`
	Hints            []string `json:"hints"`
	EndSession       bool     `json:"endSession"`

	// Segments are audio locators the backend already resolved. When empty
	// they are derived from Ssml by a SpeechClient.
	Segments []string `json:"audioUrls,omitempty"`
}

func (r Response) HasSpeech() bool { return r.OutputSpeech != "" }
