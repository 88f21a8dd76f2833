package vectorstore

// Candidate is an in-flight retrieval record returned by dense search or
// point fetch. Vector and Payload may be nil until hydrated.
type Candidate struct {
	ID      string
	Score   float64
	Vector  []float32
	Payload map[string]any
}

// ChunkID returns the corpus chunk id carried in the payload, falling back
// to the point id when the payload is missing.
func (c Candidate) ChunkID() string {
	if c.Payload != nil {
		if v, ok := c.Payload["chunk_id"].(string); ok && v != "" {
			return v
		}
	}
	return c.ID
}

// PayloadString reads a string payload field, tolerating absence.
func (c Candidate) PayloadString(key string) string {
	if c.Payload == nil {
		return ""
	}
	v, _ := c.Payload[key].(string)
	return v
}
