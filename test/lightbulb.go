package test

import (
	"errors"

	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/transition"
)

const (
	LightbulbTag = concourse.Tag("lightbulb")
	// KitchenLightbulbTag shares the lightbulb variants under a tag holding
	// a ':'
	KitchenLightbulbTag = concourse.Tag("lightbulb:kitchen")
)

var ErrCreatedTwice = errors.New("lightbulb created twice")

type LightbulbCreated struct {
	Wattage int
}

func (LightbulbCreated) VariantName() string {
	return "created"
}

type LightbulbScrewedIn struct {
	Location string
}

func (LightbulbScrewedIn) VariantName() string {
	return "screwedIn"
}

type LightbulbUnscrewed struct{}

func (LightbulbUnscrewed) VariantName() string {
	return "unscrewed"
}

type LightbulbSwitchedOn struct{}

func (LightbulbSwitchedOn) VariantName() string {
	return "switchedOn"
}

type LightbulbSwitchedOff struct{}

func (LightbulbSwitchedOff) VariantName() string {
	return "switchedOff"
}

func LightbulbFactory() *concourse.EventFactory {
	return lightbulbFactory(LightbulbTag)
}

func KitchenLightbulbFactory() *concourse.EventFactory {
	return lightbulbFactory(KitchenLightbulbTag)
}

func lightbulbFactory(tag concourse.Tag) *concourse.EventFactory {
	f := concourse.NewEventFactory(tag)
	concourse.Declare[LightbulbCreated](f, concourse.Initial())
	concourse.Declare[LightbulbScrewedIn](f)
	concourse.Declare[LightbulbUnscrewed](f)
	concourse.Declare[LightbulbSwitchedOn](f)
	concourse.Declare[LightbulbSwitchedOff](f)
	return f
}

type LightbulbState struct {
	Wattage  int
	Location string
	On       bool
}

// LightbulbTransitions accepts any event after creation, except a second
// creation
func LightbulbTransitions() transition.Funcs[LightbulbState] {
	return transition.Funcs[LightbulbState]{
		InitialFn: func(e concourse.Event) (LightbulbState, bool) {
			c, ok := e.Data.(LightbulbCreated)
			if !ok {
				return LightbulbState{}, false
			}
			return LightbulbState{Wattage: c.Wattage}, true
		},
		NextFn: func(s LightbulbState, e concourse.Event) (LightbulbState, error) {
			switch d := e.Data.(type) {
			case LightbulbCreated:
				return s, faults.Wrap(ErrCreatedTwice)
			case LightbulbScrewedIn:
				s.Location = d.Location
			case LightbulbUnscrewed:
				s.Location = ""
				s.On = false
			case LightbulbSwitchedOn:
				s.On = true
			case LightbulbSwitchedOff:
				s.On = false
			default:
				return s, faults.Errorf("unexpected lightbulb event %s", e.Kind())
			}
			return s, nil
		},
	}
}
