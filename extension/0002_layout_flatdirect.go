package extension

const ext0002 = "0002-flat-direct-storage-layout"

// Ext0002 returns a new instance of 0002-flat-direct-storage-layout with
// default values.
func Ext0002() Extension {
	return &LayoutFlatDirect{
		Base: Base{ExtensionName: ext0002},
	}
}

// LayoutFlatDirect implements 0002-flat-direct-storage-layout: the object id
// is the object's directory name, directly under the storage root.
type LayoutFlatDirect struct {
	Base
}

var _ (Layout) = (*LayoutFlatDirect)(nil)

// Resolve implements Layout
func (l LayoutFlatDirect) Resolve(id string) (string, error) { return id, nil }

func (l LayoutFlatDirect) Valid() error { return nil }
