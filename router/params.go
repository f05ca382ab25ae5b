package router

// Param is one captured path parameter.
type Param struct {
	Name  string
	Value string
}

// Params holds captured parameters in template order.
type Params []Param

// Get returns the value captured for name.
func (ps Params) Get(name string) (string, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// ByName returns the value captured for name, or "".
func (ps Params) ByName(name string) string {
	v, _ := ps.Get(name)
	return v
}
