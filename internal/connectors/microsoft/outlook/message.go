// Package outlook reads Outlook mail through Microsoft Graph, using bearer
// tokens supplied by the token lifecycle manager.
package outlook

// Message represents an Outlook message from Microsoft Graph API.
type Message struct {
	ID               string        `json:"id"`
	Subject          string        `json:"subject"`
	BodyPreview      string        `json:"bodyPreview"`
	From             *EmailAddress `json:"from"`
	ReceivedDateTime string        `json:"receivedDateTime"`
	IsRead           bool          `json:"isRead"`
	HasAttachments   bool          `json:"hasAttachments"`
	WebLink          string        `json:"webLink"`
}

// EmailAddress represents an email address with optional name.
type EmailAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

// listResponse is a Graph collection page of messages.
type listResponse struct {
	Value    []Message `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

// Summary is the caller-facing shape of an inbox entry.
type Summary struct {
	Subject     string `json:"subject"`
	From        string `json:"from"`
	Received    string `json:"received"`
	BodyPreview string `json:"bodyPreview"`
}

// ToSummary reduces a Graph message to the summary fields.
func (m Message) ToSummary() Summary {
	s := Summary{
		Subject:     m.Subject,
		Received:    m.ReceivedDateTime,
		BodyPreview: m.BodyPreview,
	}
	if m.From != nil {
		s.From = m.From.EmailAddress.Address
	}
	return s
}
