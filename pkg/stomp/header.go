package stomp

// Header names used by the chat client and broker.
const (
	HdrAcceptVersion = "accept-version"
	HdrAck           = "ack"
	HdrAuthorization = "Authorization"
	HdrContentLength = "content-length"
	HdrContentType   = "content-type"
	HdrDestination   = "destination"
	HdrHeartBeat     = "heart-beat"
	HdrHost          = "host"
	HdrID            = "id"
	HdrMessage       = "message"
	HdrMessageID     = "message-id"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrServer        = "server"
	HdrSession       = "session"
	HdrSubscription  = "subscription"
	HdrVersion       = "version"
)

// HeaderField is a single header line.
type HeaderField struct {
	Key   string
	Value string
}

// Header is the ordered list of header lines of a frame.
// When a key repeats, only the first occurrence is significant.
type Header []HeaderField

// Lookup returns the first value stored under key.
func (h Header) Lookup(key string) (string, bool) {
	for _, f := range h {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Get returns the first value stored under key, or "".
func (h Header) Get(key string) string {
	v, _ := h.Lookup(key)
	return v
}

// Add appends a header line, keeping any existing lines for key.
func (h *Header) Add(key, value string) {
	*h = append(*h, HeaderField{Key: key, Value: value})
}

// Set replaces every line for key with a single line.
func (h *Header) Set(key, value string) {
	for i, f := range *h {
		if f.Key == key {
			(*h)[i].Value = value
			h.delFrom(key, i+1)
			return
		}
	}
	h.Add(key, value)
}

// Del removes every line for key.
func (h *Header) Del(key string) {
	h.delFrom(key, 0)
}

func (h *Header) delFrom(key string, start int) {
	out := (*h)[:start]
	for _, f := range (*h)[start:] {
		if f.Key != key {
			out = append(out, f)
		}
	}
	*h = out
}
