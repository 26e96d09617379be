package model

// DecodedMessage is the summary of one message decoded from an upload.
type DecodedMessage struct {
	// Subject is nil when the message carries no Subject header.
	Subject        *string
	From           []string
	To             []string
	HasAttachments bool
}

// Summary is the JSON body returned for a successfully parsed upload.
type Summary struct {
	Subject        *string  `json:"Subject"`
	From           []string `json:"From"`
	To             []string `json:"To"`
	HasAttachments bool     `json:"HasAttachments"`
}

// Summarize converts a decoded message into its wire form. Address lists are
// never nil so they encode as [] rather than null.
func Summarize(msg DecodedMessage) Summary {
	from := msg.From
	if from == nil {
		from = []string{}
	}
	to := msg.To
	if to == nil {
		to = []string{}
	}
	return Summary{
		Subject:        msg.Subject,
		From:           from,
		To:             to,
		HasAttachments: msg.HasAttachments,
	}
}

// SubjectOrEmpty returns the subject text, or "" when absent.
func (m DecodedMessage) SubjectOrEmpty() string {
	if m.Subject == nil {
		return ""
	}
	return *m.Subject
}
