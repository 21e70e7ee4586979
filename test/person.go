package test

import (
	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/transition"
)

const PersonTag = concourse.Tag("person")

type PersonCreated struct {
	Name string
	Age  int
}

func (PersonCreated) VariantName() string {
	return "created"
}

type PersonUpdatedName struct {
	Name string
}

func (PersonUpdatedName) VariantName() string {
	return "updatedName"
}

type PersonUpdatedAge struct {
	Age int
}

func (PersonUpdatedAge) VariantName() string {
	return "updatedAge"
}

type PersonDeleted struct{}

func (PersonDeleted) VariantName() string {
	return "deleted"
}

func PersonFactory() *concourse.EventFactory {
	f := concourse.NewEventFactory(PersonTag)
	concourse.Declare[PersonCreated](f, concourse.Initial())
	concourse.Declare[PersonUpdatedName](f)
	concourse.Declare[PersonUpdatedAge](f)
	concourse.Declare[PersonDeleted](f, concourse.Terminal())
	return f
}

type Person struct {
	Name    string
	Age     int
	Deleted bool
}

// PersonTable builds the person transitions as a dispatch table
func PersonTable() *transition.Table[Person] {
	t := transition.NewTable[Person](PersonFactory())
	transition.OnInitial(t, func(_ concourse.Event, c PersonCreated) Person {
		return Person{Name: c.Name, Age: c.Age}
	})
	transition.OnNext(t, func(p Person, _ concourse.Event, u PersonUpdatedName) (Person, error) {
		p.Name = u.Name
		return p, nil
	})
	transition.OnNext(t, func(p Person, _ concourse.Event, u PersonUpdatedAge) (Person, error) {
		p.Age = u.Age
		return p, nil
	})
	transition.OnNext(t, func(p Person, _ concourse.Event, _ PersonDeleted) (Person, error) {
		p.Deleted = true
		return p, nil
	})
	return t
}

// PersonTransitions panics if the table is incomplete
func PersonTransitions() transition.Transitions[Person] {
	t, err := PersonTable().Transitions()
	if err != nil {
		panic(err)
	}
	return t
}

// Registry knows every fixture factory
func Registry() *concourse.Registry {
	return concourse.NewRegistry(LightbulbFactory(), KitchenLightbulbFactory(), PersonFactory())
}
