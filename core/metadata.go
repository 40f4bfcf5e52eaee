package core

// Metadata is arbitrary key/value context carried on events, for example
// comment text or a reassignment target.
type Metadata map[string]string

func (m Metadata) Get(key string) string {
	return m[key]
}

func (m Metadata) Set(key string, value string) {
	m[key] = value
}

func (m Metadata) Keys() []string {
	r := make([]string, 0, len(m))

	for k := range m {
		r = append(r, k)
	}

	return r
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}

	c := make(Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}
