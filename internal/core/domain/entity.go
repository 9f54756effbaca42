package domain

// Entity is a scaled numeric telemetry value. Raw readings are multiplied by
// the factor on update; a zero factor means 1.
type Entity struct {
	value  float64
	factor float64
}

func NewEntity(factor float64) Entity {
	return Entity{factor: factor}
}

func EntityOf(value float64) Entity {
	return Entity{value: value}
}

// Update stores a raw reading, applying the entity factor.
func (e *Entity) Update(raw float64) {
	if e.factor == 0 {
		e.value = raw
		return
	}
	e.value = raw * e.factor
}

// Set stores an already scaled value.
func (e *Entity) Set(value float64) {
	e.value = value
}

// Int truncates toward zero.
func (e Entity) Int() int {
	return int(e.value)
}

func (e Entity) Number() float64 {
	return e.value
}
