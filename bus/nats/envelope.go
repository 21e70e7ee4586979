package nats

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
)

// message is what is published for every processed batch. The batch travels
// whole so the receiving bus can accept it atomically.
type message struct {
	Events []envelope `json:"events"`
}

type envelope struct {
	Tag         string `json:"tag"`
	AggregateID string `json:"aggregate_id"`
	Variant     string `json:"variant"`
	SortKey     []byte `json:"sort_key"`
	Payload     []byte `json:"payload,omitempty"`
}

func encode(codec concourse.Codec, batch []concourse.Event) ([]byte, error) {
	msg := message{Events: make([]envelope, 0, len(batch))}
	for _, e := range batch {
		payload, err := codec.Encode(e.Data)
		if err != nil {
			return nil, faults.Errorf("unable to encode '%s': %w", e.Kind(), err)
		}
		msg.Events = append(msg.Events, envelope{
			Tag:         string(e.Tag),
			AggregateID: string(e.AggregateID),
			Variant:     e.Name(),
			SortKey:     []byte(e.Timestamp.SortKey()),
			Payload:     payload,
		})
	}
	b, err := jsoniter.Marshal(msg)
	return b, faults.Wrap(err)
}

func decode(codec concourse.Codec, data []byte) ([]concourse.Event, error) {
	var msg message
	if err := jsoniter.Unmarshal(data, &msg); err != nil {
		return nil, faults.Errorf("invalid message: %w", err)
	}
	if len(msg.Events) == 0 {
		return nil, faults.New("message without events")
	}
	batch := make([]concourse.Event, 0, len(msg.Events))
	for _, env := range msg.Events {
		ts, err := concourse.ParseSortKey(string(env.SortKey))
		if err != nil {
			return nil, err
		}
		tag := concourse.Tag(env.Tag)
		v, err := codec.Decode(tag, env.Variant, env.Payload)
		if err != nil {
			return nil, err
		}
		batch = append(batch, concourse.Event{
			Timestamp:   ts,
			AggregateID: concourse.AggregateID(env.AggregateID),
			Tag:         tag,
			Data:        v,
		})
	}
	return batch, nil
}
