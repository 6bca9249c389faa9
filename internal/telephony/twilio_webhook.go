package telephony

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// TwilioStatusForm captures the status-callback fields Twilio posts as
// application/x-www-form-urlencoded.
type TwilioStatusForm struct {
	CallSid      string `json:"CallSid"`
	AccountSid   string `json:"AccountSid"`
	From         string `json:"From"`
	To           string `json:"To"`
	Direction    string `json:"Direction"`
	CallStatus   string `json:"CallStatus"`
	CallDuration string `json:"CallDuration,omitempty"`
	RecordingUrl string `json:"RecordingUrl,omitempty"`
	AnsweredBy   string `json:"AnsweredBy,omitempty"`
	Timestamp    string `json:"Timestamp,omitempty"`
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return TwilioStatusForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   strings.TrimSpace(r.PostFormValue("AccountSid")),
		From:         strings.TrimSpace(r.PostFormValue("From")),
		To:           strings.TrimSpace(r.PostFormValue("To")),
		Direction:    r.PostFormValue("Direction"),
		CallStatus:   r.PostFormValue("CallStatus"),
		CallDuration: r.PostFormValue("CallDuration"),
		RecordingUrl: r.PostFormValue("RecordingUrl"),
		AnsweredBy:   r.PostFormValue("AnsweredBy"),
		Timestamp:    r.PostFormValue("Timestamp"),
	}, nil
}

// FromTwilio normalizes a status callback through the same field table as JSON payloads.
func (n *Normalizer) FromTwilio(f TwilioStatusForm) (CallEvent, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return CallEvent{}, err
	}
	doc := map[string]any{
		"CallSid":    f.CallSid,
		"From":       f.From,
		"To":         f.To,
		"Direction":  f.Direction,
		"CallStatus": f.CallStatus,
		"AnsweredBy": f.AnsweredBy,
	}
	if f.CallDuration != "" {
		doc["CallDuration"] = f.CallDuration
	}
	if f.RecordingUrl != "" {
		doc["RecordingUrl"] = f.RecordingUrl
	}
	return n.fromDocument(doc, raw)
}
