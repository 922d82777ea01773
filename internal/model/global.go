package model

// GlobalVariable is a process-wide key/value configuration entry visible
// to all script executions. Secret marks values a client should avoid
// displaying; the engine stores and injects them like any other entry.
type GlobalVariable struct {
	Key    string      `json:"key"`
	Value  interface{} `json:"value"`
	Secret bool        `json:"secret"`
}
