package platform

// Builtin returns the registrations for the marketplaces supported out of
// the box.
func Builtin() []Registration {
	return []Registration{
		Amazon().Registration(),
		Ebay().Registration(),
		Walmart().Registration(),
	}
}
