package common

import "encoding/json"

// Statistics provide a type and method receivers for marshalling and
// un-marshalling statistics, as JSON, for the controller.
type Statistics map[string]interface{}

// NewStatistics returns a new instance initialized with data.
func NewStatistics(data interface{}) (stat Statistics, err error) {
	var statm Statistics

	switch v := data.(type) {
	case string:
		statm = make(Statistics)
		err = json.Unmarshal([]byte(v), &statm)
	case []byte:
		statm = make(Statistics)
		err = json.Unmarshal(v, &statm)
	case map[string]interface{}:
		statm = Statistics(v)
	case nil:
		statm = make(Statistics)
	}
	return statm, err
}

// Encode marshals to JSON.
func (s Statistics) Encode() (data []byte, err error) {
	data, err = json.Marshal(s)
	return
}

// Set stat value.
func (s Statistics) Set(path string, val interface{}) {
	s[path] = val
}

// Get stat value.
func (s Statistics) Get(path string) interface{} {
	return s[path]
}

// ToMap converts Statistics to a plain map.
func (s Statistics) ToMap() map[string]interface{} {
	return map[string]interface{}(s)
}
