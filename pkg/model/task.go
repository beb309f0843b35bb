package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Weekday is one of the seven fixed day keys of a collection.
type Weekday string

const (
	Monday    Weekday = "Monday"
	Tuesday   Weekday = "Tuesday"
	Wednesday Weekday = "Wednesday"
	Thursday  Weekday = "Thursday"
	Friday    Weekday = "Friday"
	Saturday  Weekday = "Saturday"
	Sunday    Weekday = "Sunday"
)

// Weekdays lists the day keys in display order.
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// ParseWeekday resolves a day name, ignoring case.
func ParseWeekday(s string) (Weekday, bool) {
	for _, d := range Weekdays {
		if strings.EqualFold(string(d), s) {
			return d, true
		}
	}
	return "", false
}

// TaskRecord is one planning item. LastModified must change with every field change,
// the merge relies on it alone.
type TaskRecord struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	Completed      bool    `json:"completed"`
	Priority       int     `json:"priority"`
	EstimatedHours float64 `json:"estimatedHours"`
	CreatedAt      int64   `json:"createdAt"`
	LastModified   int64   `json:"lastModified"`
}

// Schedule maps a weekday to its ordered tasks.
type Schedule map[Weekday][]TaskRecord

// MarshalJSON writes the seven days in Monday..Sunday order, empty days as [].
// Keys outside the seven literals are not written.
func (s Schedule) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, day := range Weekdays {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encode(string(day))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		tasks := s[day]
		if tasks == nil {
			tasks = []TaskRecord{}
		}
		val, err := encode(tasks)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// WeeklyTaskCollection is the root document mirrored to the remote file.
type WeeklyTaskCollection struct {
	Tasks        Schedule `json:"tasks"`
	LastModified int64    `json:"lastModified"`
	MergedAt     string   `json:"mergedAt,omitempty"`
}

// NewCollection returns a collection with all seven days present and empty.
func NewCollection(now time.Time) *WeeklyTaskCollection {
	c := &WeeklyTaskCollection{
		Tasks:        make(Schedule, len(Weekdays)),
		LastModified: Millis(now),
	}
	for _, d := range Weekdays {
		c.Tasks[d] = []TaskRecord{}
	}
	return c
}

// TaskCount returns the number of tasks across all days.
func (c *WeeklyTaskCollection) TaskCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, d := range Weekdays {
		n += len(c.Tasks[d])
	}
	return n
}

// Clone returns a deep copy.
func (c *WeeklyTaskCollection) Clone() *WeeklyTaskCollection {
	if c == nil {
		return nil
	}
	out := &WeeklyTaskCollection{
		Tasks:        make(Schedule, len(c.Tasks)),
		LastModified: c.LastModified,
		MergedAt:     c.MergedAt,
	}
	for day, tasks := range c.Tasks {
		out.Tasks[day] = append([]TaskRecord{}, tasks...)
	}
	return out
}

// Marshal returns the canonical JSON form used for hashing and upload.
// HTML characters are not escaped so the bytes match what other clients write.
func Marshal(c *WeeklyTaskCollection) ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	return encode(c)
}

// Unmarshal parses a plaintext collection payload.
func Unmarshal(data []byte) (*WeeklyTaskCollection, error) {
	var c WeeklyTaskCollection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Tasks == nil {
		c.Tasks = make(Schedule, len(Weekdays))
	}
	return &c, nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// RemoteFileHandle references the single remote document backing the collection.
type RemoteFileHandle struct {
	ID           string
	Name         string
	ParentID     string
	ModifiedTime string
}
