package pushover

import (
	"strconv"
	"strings"
)

// Notification is one message downloaded for the device. It is read-only and
// discarded after dispatch.
type Notification struct {
	ID       int64  `json:"id"`
	UMID     int64  `json:"umid"`
	Title    string `json:"title"`
	Body     string `json:"message"`
	App      string `json:"app"`
	Date     int64  `json:"date"`
	Priority int    `json:"priority"`
}

// Credentials identify one authenticated device session. They are immutable
// for the life of the session and replaced wholesale on the next login.
type Credentials struct {
	Secret   string
	DeviceID string
}

// Watermark is the highest notification id of one downloaded batch.
type Watermark struct {
	ID  int64
	Set bool
}

// NoWatermark marks an empty batch; acknowledging it is a no-op.
var NoWatermark = Watermark{}

func (w Watermark) String() string {
	if !w.Set {
		return "none"
	}
	return strconv.FormatInt(w.ID, 10)
}

// highestID scans a batch for its maximum id. Batches are not assumed sorted.
func highestID(batch []Notification) Watermark {
	w := NoWatermark
	for _, n := range batch {
		if !w.Set || n.ID > w.ID {
			w = Watermark{ID: n.ID, Set: true}
		}
	}
	return w
}

// commandArgs splits a notification body into the external command's
// arguments: the leading action token, then the remaining tokens joined with
// underscores as a single target token. ok is false for a blank body.
//
//	"ON kitchen lamp" -> ["ON", "kitchen_lamp"]
func commandArgs(body string) (args []string, ok bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil, false
	}
	return []string{fields[0], strings.Join(fields[1:], "_")}, true
}

// downloadResponse is the wire format of the messages endpoint.
type downloadResponse struct {
	Messages []Notification `json:"messages"`
}
