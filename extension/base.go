package extension

// Base provides the common 'extensionName' config field. Extension types
// that don't need a custom Name() implementation can embed it.
type Base struct {
	ExtensionName string `json:"extensionName"`
}

// Name implements Extension for Base
func (b Base) Name() string { return b.ExtensionName }
