package skycache

// Category names one of the shared document's independent entry groups.
// Entries in different categories never collide even under the same key.
type Category string

const (
	CategoryLocation Category = "Location"
	CategoryStation  Category = "Station"
	CategoryZone     Category = "Zone"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryLocation, CategoryStation, CategoryZone:
		return true
	}
	return false
}
