package jsoncodec

import (
	"unicode"

	jsoniter "github.com/json-iterator/go"
	"github.com/json-iterator/go/extra"
	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
)

func init() {
	extra.SupportPrivateFields()
	extra.SetNamingStrategy(func(s string) string {
		first := unicode.ToLower(rune(s[0]))
		return string(first) + s[1:]
	})
}

var _ concourse.Codec = (*Codec)(nil)

// Codec encodes variants as JSON objects and decodes them through the
// factories of a registry
type Codec struct {
	registry *concourse.Registry
}

func New(registry *concourse.Registry) *Codec {
	return &Codec{
		registry: registry,
	}
}

func (Codec) Encode(v concourse.Variant) ([]byte, error) {
	b, err := jsoniter.Marshal(v)
	return b, faults.Wrap(err)
}

func (c Codec) Decode(tag concourse.Tag, name string, data []byte) (concourse.Variant, error) {
	factory, err := c.registry.Factory(tag)
	if err != nil {
		return nil, err
	}
	return factory.Decode(name, data, jsoniter.Unmarshal)
}
