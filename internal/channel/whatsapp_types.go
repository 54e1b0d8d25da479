package channel

import "fmt"

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string          `json:"messaging_product"`
	Contacts         []waProfile     `json:"contacts"`
	Messages         []waMessage     `json:"messages"`
	Statuses         []waStatusEntry `json:"statuses"`
}

type waProfile struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waStatusEntry struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

type waMessage struct {
	From      string       `json:"from"`
	ID        string       `json:"id"`
	Timestamp string       `json:"timestamp"`
	Type      string       `json:"type"`
	Text      *waText      `json:"text,omitempty"`
	Image     *waMedia     `json:"image,omitempty"`
	Document  *waMedia     `json:"document,omitempty"`
	Audio     *waMedia     `json:"audio,omitempty"`
	Video     *waMedia     `json:"video,omitempty"`
	Location  *waLocation  `json:"location,omitempty"`
	Contacts  []waContact  `json:"contacts,omitempty"`
	Context   *waReplyInfo `json:"context,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
}

type waLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type waContact struct {
	Name struct {
		FirstName     string `json:"first_name"`
		FormattedName string `json:"formatted_name"`
	} `json:"name"`
	Phones []struct {
		Phone string `json:"phone"`
		WaID  string `json:"wa_id"`
	} `json:"phones"`
}

type waReplyInfo struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// --- Graph API request/response types ---

type waOutbound struct {
	MessagingProduct string         `json:"messaging_product"`
	RecipientType    string         `json:"recipient_type"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Context          *waOutContext  `json:"context,omitempty"`
	Text             *waOutText     `json:"text,omitempty"`
	Image            *waOutMedia    `json:"image,omitempty"`
	Document         *waOutMedia    `json:"document,omitempty"`
	Audio            *waOutMedia    `json:"audio,omitempty"`
	Video            *waOutMedia    `json:"video,omitempty"`
	Location         *waOutLocation `json:"location,omitempty"`
}

type waOutContext struct {
	MessageID string `json:"message_id"`
}

type waOutText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type waOutMedia struct {
	ID       string `json:"id"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type waOutLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *waAPIError `json:"error,omitempty"`
}

type waMediaURL struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type waUploadResponse struct {
	ID    string      `json:"id"`
	Error *waAPIError `json:"error,omitempty"`
}

type waAPIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *waAPIError) Error() string {
	return fmt.Sprintf("%s (type=%s code=%d)", e.Message, e.Type, e.Code)
}
